// Package resource provides the handle table for host objects owned on
// behalf of a running script.
//
// Resources are host-side values (sockets, files, timers, addon instances)
// that scripts refer to by a small integer ID. The table assigns IDs from a
// counter that only increases, so an ID is never reused while the table lives.
//
// # Resource Lifecycle
//
//	table := resource.NewTable()
//
//	// Insert a value, get an ID
//	rid := table.Add(file)
//
//	// Type-checked retrieval; the entry stays live
//	f, err := resource.Get[*File](table, rid)
//
//	// Remove without closing; the caller now owns cleanup
//	f, err = resource.Take[*File](table, rid)
//
//	// Remove and close
//	err = table.Close(rid)
//
// A resource removed from the table is logically dead (further lookups fail)
// but may still be finishing work on goroutines that hold their own
// reference. Such holders must tolerate operating on a closing resource.
//
// # Capabilities
//
// A resource may implement Reader, Writer, Shutdowner, Closer and Namer.
// The package-level Read, Write and Shutdown helpers fail with a
// NotSupported error for missing capabilities, so callers get a uniform
// error instead of a failed type assertion.
//
// # Cancellation
//
// Long-running work attached to a resource observes a CancelHandle owned by
// the resource. Close flips the handle; cooperative goroutines unwind with a
// Cancelled error. Interior mutable state is guarded by a Cell, which waits
// for exclusive access without ignoring the caller's context.
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(observer) // receives EventAdded, EventTaken, EventClosed
package resource
