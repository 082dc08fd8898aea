// Package opcore is an embedding kernel for a managed script engine.
//
// Scripts reach host functionality only through ops: named Go functions
// registered by extensions and addressed by dense integer ids. Host objects
// such as files, sockets and stores live in a resource table and are
// handed to scripts as resource ids.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	opcore/
//	├── resource/        Resource capability interface and the id-keyed table
//	├── op/              Ops, extensions, the op table, OpState and metrics
//	├── marshal/         Value codecs and the byte Buffer shared with scripts
//	├── kernel/          Sync/async call boundary, pending queue, event loop
//	├── engine/          gopher-lua binding: core table, prelude, promises
//	├── ext/             Capability extensions (builtin, timers, fs, net,
//	│                    ws, crypto, kv, wasm)
//	├── config/          YAML configuration and logger construction
//	├── runtime/         Assembly of config, extensions and engine
//	├── errors/          Structured errors and script error classes
//	└── cmd/opcore/      Command line: run, ops, config, explore
//
// # Quick Start
//
//	rt, err := runtime.New(config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	err = rt.Run(ctx, "main.lua", `
//	    local rid = core.await(core.opAsync("op_kv_open", ":memory:"))
//	    core.await(core.opAsync("op_kv_set", rid, { key = "a", value = "1" }))
//	    core.print(core.await(core.opAsync("op_kv_get", rid, "a")))
//	`)
//
// # Calling Conventions
//
// A sync op completes before returning to the script. An async op returns a
// promise id at once; its result is delivered by the event loop in the
// order ops complete, not the order they were started. A script may unref a
// promise so it no longer keeps the loop alive.
//
// # Thread Safety
//
// The kernel and script engine run on one goroutine. Async op bodies and
// blocking work run on other goroutines and touch the op state only through
// the resource table and the values they captured.
package opcore
