package engine

import (
	stderrors "errors"

	lua "github.com/yuin/gopher-lua"
)

const errorTypeName = "opcore.error"

// ScriptError is an error that escaped the script: an uncaught error
// object, a runtime error or a failed top-level chunk.
type ScriptError struct {
	Class   string
	Message string
	Code    string
}

func (e *ScriptError) Error() string {
	if e.Class == "" {
		return e.Message
	}
	return e.Class + ": " + e.Message
}

// scriptError converts a value raised in Lua into a Go error.
func scriptError(lv lua.LValue) *ScriptError {
	switch v := lv.(type) {
	case *lua.LTable:
		e := &ScriptError{
			Class:   lua.LVAsString(v.RawGetString("class")),
			Message: lua.LVAsString(v.RawGetString("message")),
			Code:    lua.LVAsString(v.RawGetString("code")),
		}
		if e.Message == "" {
			e.Message = v.String()
		}
		return e
	case nil:
		return &ScriptError{Message: "nil"}
	default:
		return &ScriptError{Message: lv.String()}
	}
}

// fromAPIError unwraps the value carried by a protected-call failure.
func fromAPIError(err error) error {
	var api *lua.ApiError
	if stderrors.As(err, &api) && api.Object != nil && api.Object != lua.LNil {
		return scriptError(api.Object)
	}
	return err
}

func registerErrorType(L *lua.LState) {
	mt := L.NewTypeMetatable(errorTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		L.Push(lua.LString(scriptError(t).Error()))
		return 1
	}))
}
