// Package op defines the unit of work scripts invoke and the state those
// units share.
//
// # Ops
//
// An Op is a named host function with a calling convention. Sync ops
// complete before control returns to the script. Async ops decode their
// arguments on the dispatch goroutine, then run their body on a goroutine
// of their own and resolve a Future the kernel polls.
//
//	add := op.Sync("op_add", func(_ *op.State, a, b int) (int, error) {
//		return a + b, nil
//	})
//
//	sleep := op.Async("op_sleep", func(ctx context.Context, _ *op.State, ms int, _ op.Void) (op.Void, error) {
//		select {
//		case <-time.After(time.Duration(ms) * time.Millisecond):
//			return op.Void{}, nil
//		case <-ctx.Done():
//			return op.Void{}, ctx.Err()
//		}
//	})
//
// # Extensions and the op table
//
// Ops are grouped into extensions. An extension also carries state
// initialisers and middleware. NewTable assigns every op a dense id in
// registration order, starting at 1; id 0 is reserved for the bootstrap
// call that hands the name-to-id map to the script.
//
// # State
//
// State holds the resource table and one value per Go type for extension
// data, such as a permissions record or a database pool. Slot presence is a
// startup invariant: Borrow panics when the slot is missing.
//
// # Off-loading
//
// CPU-bound or blocking work inside an async body goes through the worker
// Pool so it never competes with the dispatch goroutine for an unbounded
// number of threads.
package op
