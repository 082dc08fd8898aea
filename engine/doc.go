// Package engine binds a gopher-lua state to a kernel.
//
// The binding is a client of the kernel's call boundary and nothing more:
// it installs a global table named core with the two opcall entry points,
// then runs an embedded prelude that builds the script-facing API on top of
// them.
//
//	local sum = core.opSync("op_add", 2, 3)
//
//	core.spawn(function()
//	  local n, err = core.await(core.opAsync("op_sleep", 10))
//	  if err then core.print(tostring(err), true) end
//	end)
//
// # Errors
//
// Ops never raise in Lua. opSync and await return value, err in the usual
// Lua style, where err is a table {class, message, code} whose tostring is
// "Class: message". core.registerErrorClass lets a script map a class to
// its own constructor.
//
// # Coroutines
//
// Each script runs as a coroutine so it may await at top level. await
// yields the running coroutine; the VM resumes it from Settle when the
// kernel delivers the promise. gopher-lua cannot yield across a Go call
// boundary, so await must not be called inside pcall.
//
// # Values
//
// LuaCodec converts arguments and results. Numbers decode into any Go
// numeric type with range checks, tables into slices, maps or structs, and
// buffer userdata into *marshal.Buffer without copying.
package engine
