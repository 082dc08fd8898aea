// Package marshal defines the boundary between script-native values and
// the Go argument and result shapes of ops.
//
// The kernel never inspects script values itself. A script engine binding
// supplies a Codec: the Decoder turns a native argument into the Go type an
// op declares, and the Encoder turns an op's Go result back into something
// the engine can hand to the script.
//
//	script value ──Decode──▶ op argument (A, B)
//	op result R  ──Encode──▶ script value
//
// Native is the codec for hosts whose native representation already is a
// Go value. Engines with their own value model, such as the Lua binding in
// package engine, convert to Go values first and then delegate shaping to
// Native.
//
// # Buffers
//
// Buffer is a transferable byte view. It is passed to ops without copying
// the backing memory, so an op that reads into a Buffer writes straight into
// the memory the script sees. Detach moves the backing array to a new view
// and leaves the source empty.
package marshal
