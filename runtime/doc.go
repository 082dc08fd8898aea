// Package runtime assembles a script runtime from configuration: the
// extensions it enables, the Lua engine and the kernel beneath it.
//
// # Quick Start
//
//	cfg, err := config.Load("opcore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt, err := runtime.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	if err := rt.RunFile(ctx, "main.lua"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Extensions
//
// Extensions register in a fixed order so op ids are stable for a given
// configuration:
//
//	builtin  resources, close, print, metrics, generic read/write/shutdown
//	timers   now, sleep, cancellable timers
//	fs       file open/read/write/stat/remove under path allow-lists
//	net      TCP listen/accept/connect under a host allow-list
//	ws       WebSocket client streams, same host allow-list as net
//	crypto   UUIDs, random bytes, digests
//	kv       SQL-backed key/value stores
//	wasm     WebAssembly addons
//
// Embedders add their own with WithExtensions. Their ops are registered
// after the built-in ones.
//
// # Event Loop
//
// Run executes the script's top level as a coroutine, then drives the
// kernel until no referenced op is pending. Ops the script unref'd do not
// keep the loop alive and are dropped when it exits.
//
// # Thread Safety
//
// A Runtime owns one Lua state and is not safe for concurrent use. Run one
// Runtime per goroutine.
package runtime
