package engine

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/marshal"
)

func registerBufferType(L *lua.LState, codec *LuaCodec) {
	mt := L.NewTypeMetatable(bufferTypeName)
	methods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"len": bufferLen,
		// string([n]) returns the first n bytes, or all of them
		"string": bufferString,
		// slice(i, j) is 1-based and inclusive, like string.sub
		"slice": func(L *lua.LState) int {
			b := checkBuffer(L, 1)
			i := L.CheckInt(2)
			j := L.OptInt(3, b.Len())
			s, err := b.Slice(i-1, j)
			if err != nil {
				L.ArgError(2, errors.Classify(err).Message())
			}
			L.Push(codec.NewBuffer(s))
			return 1
		},
		"byte": func(L *lua.LState) int {
			b := checkBuffer(L, 1)
			i := L.CheckInt(2)
			if i < 1 || i > b.Len() {
				L.ArgError(2, "index out of range")
			}
			L.Push(lua.LNumber(b.Bytes()[i-1]))
			return 1
		},
		"detach": func(L *lua.LState) int {
			L.Push(codec.NewBuffer(checkBuffer(L, 1).Detach()))
			return 1
		},
	})
	L.SetField(mt, "__index", methods)
	L.SetField(mt, "__len", L.NewFunction(bufferLen))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(checkBuffer(L, 1).String()))
		return 1
	}))
}

func bufferLen(L *lua.LState) int {
	L.Push(lua.LNumber(checkBuffer(L, 1).Len()))
	return 1
}

func bufferString(L *lua.LState) int {
	b := checkBuffer(L, 1)
	n := L.OptInt(2, b.Len())
	if n < 0 || n > b.Len() {
		L.ArgError(2, "length out of range")
	}
	L.Push(lua.LString(b.Bytes()[:n]))
	return 1
}

func checkBuffer(L *lua.LState, n int) *marshal.Buffer {
	ud := L.CheckUserData(n)
	b, ok := ud.Value.(*marshal.Buffer)
	if !ok {
		L.ArgError(n, "buffer expected")
	}
	return b
}

// newBuffer implements core.buffer(n | string).
func newBuffer(codec *LuaCodec) lua.LGFunction {
	return func(L *lua.LState) int {
		switch v := L.CheckAny(1).(type) {
		case lua.LNumber:
			if v < 0 {
				L.ArgError(1, "negative size")
			}
			L.Push(codec.NewBuffer(marshal.NewBuffer(int(v))))
		case lua.LString:
			L.Push(codec.NewBuffer(marshal.BufferFrom([]byte(v))))
		default:
			L.ArgError(1, "size or string expected")
		}
		return 1
	}
}
