// Package kernel is the boundary between a single-threaded script engine
// and the host ops it may call.
//
// # Call boundary
//
// The engine calls exactly two entry points. OpcallSync runs a sync op and
// returns its encoded result. OpcallAsync starts an async op and files its
// future under a promise id chosen by the script. Calling an op through the
// wrong entry point is a TypeError, never a silent fallback. Op id 0 is
// reserved: OpcallSync(0, nil, nil) returns the name-to-id map the script
// uses to resolve op names once at startup.
//
// # Event loop
//
// Each Tick polls every pending future once, then hands the ready results
// to Engine.Settle in a single batch, ordered by completion. RunEventLoop
// ticks until no ref'd promise remains, sleeping on a wake channel between
// ticks so an idle loop costs nothing.
//
//	k, _ := kernel.New(kernel.Options{Extensions: exts, Engine: vm})
//	_ = k.OpcallAsync(id, 1, 250, nil)
//	err := k.RunEventLoop(ctx)
//
// # Goroutines
//
// OpcallSync, OpcallAsync, Ref, Unref, Tick and RunEventLoop belong to the
// engine goroutine. Async op bodies run elsewhere and only touch op.State
// and their own future. The kernel never holds its lock while calling the
// engine, so Settle may re-enter OpcallAsync.
package kernel
