package engine

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/marshal"
)

const bufferTypeName = "buffer"

// LuaCodec converts between Lua values and Go values. Typed shaping is
// delegated to marshal.Native once a Lua value has been turned into plain
// Go data.
type LuaCodec struct {
	L      *lua.LState
	native marshal.Native
}

// NewLuaCodec creates a codec that allocates tables and buffers on L.
func NewLuaCodec(L *lua.LState) *LuaCodec {
	return &LuaCodec{L: L}
}

// Decode converts a Lua value into the Go value pointed to by into.
func (c *LuaCodec) Decode(native any, into any) error {
	if lv, ok := native.(lua.LValue); ok {
		native = ToGo(lv)
	}
	return c.native.Decode(native, into)
}

// Encode converts an op result into a Lua value.
func (c *LuaCodec) Encode(v any) (any, error) {
	plain, err := c.native.Encode(v)
	if err != nil {
		return nil, err
	}
	lv, err := c.toLua(reflect.ValueOf(plain), 0)
	if err != nil {
		return nil, err
	}
	return lv, nil
}

// ToGo converts a Lua value into plain Go data: float64, string, bool,
// []any for sequences, map[string]any for other tables and *marshal.Buffer
// for buffers. An empty table, a function or a thread becomes nil.
func ToGo(lv lua.LValue) any {
	return toGo(lv, 0)
}

func toGo(lv lua.LValue, depth int) any {
	if depth > 32 {
		return nil
	}
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LUserData:
		if b, ok := v.Value.(*marshal.Buffer); ok {
			return b
		}
		return v.Value
	case *lua.LTable:
		return tableToGo(v, depth)
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, depth int) any {
	n := t.Len()
	hasOther := false
	t.ForEach(func(k, _ lua.LValue) {
		if num, ok := k.(lua.LNumber); ok && int(num) >= 1 && int(num) <= n && float64(int(num)) == float64(num) {
			return
		}
		hasOther = true
	})

	if n == 0 && !hasOther {
		return nil
	}
	if !hasOther {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = toGo(t.RawGetInt(i), depth+1)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		m[lua.LVAsString(k)] = toGo(v, depth+1)
	})
	return m
}

func (c *LuaCodec) toLua(rv reflect.Value, depth int) (lua.LValue, error) {
	if depth > 32 {
		return nil, errors.New(errors.PhaseEncode, errors.KindEncode).
			Detail("value nested too deeply").
			Build()
	}
	if !rv.IsValid() {
		return lua.LNil, nil
	}

	switch v := rv.Interface().(type) {
	case lua.LValue:
		return v, nil
	case *marshal.Buffer:
		return c.NewBuffer(v), nil
	case []byte:
		return c.NewBuffer(marshal.BufferFrom(v)), nil
	case error:
		return c.NewError(errors.Classify(v)), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return lua.LBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return lua.LNumber(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float()), nil
	case reflect.String:
		return lua.LString(rv.String()), nil
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return lua.LNil, nil
		}
		return c.toLua(rv.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return lua.LNil, nil
		}
		t := c.L.CreateTable(rv.Len(), 0)
		for i := 0; i < rv.Len(); i++ {
			lv, err := c.toLua(rv.Index(i), depth+1)
			if err != nil {
				return nil, err
			}
			t.RawSetInt(i+1, lv)
		}
		return t, nil
	case reflect.Map:
		if rv.IsNil() {
			return lua.LNil, nil
		}
		t := c.L.CreateTable(0, rv.Len())
		keys := rv.MapKeys()
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
		})
		for _, k := range keys {
			lk, err := c.toLua(k, depth+1)
			if err != nil {
				return nil, err
			}
			lv, err := c.toLua(rv.MapIndex(k), depth+1)
			if err != nil {
				return nil, err
			}
			t.RawSet(lk, lv)
		}
		return t, nil
	case reflect.Struct:
		plain, err := c.native.Encode(rv.Interface())
		if err != nil {
			return nil, err
		}
		if reflect.TypeOf(plain) == rv.Type() {
			break
		}
		return c.toLua(reflect.ValueOf(plain), depth+1)
	}

	return nil, errors.New(errors.PhaseEncode, errors.KindEncode).
		GoType(rv.Type().String()).
		Detail("no Lua representation").
		Build()
}

// NewBuffer wraps b in a buffer userdata.
func (c *LuaCodec) NewBuffer(b *marshal.Buffer) *lua.LUserData {
	ud := c.L.NewUserData()
	ud.Value = b
	c.L.SetMetatable(ud, c.L.GetTypeMetatable(bufferTypeName))
	return ud
}

// NewError builds the script-visible error table {class, message, code}.
func (c *LuaCodec) NewError(e *errors.Error) *lua.LTable {
	t := c.L.CreateTable(0, 3)
	t.RawSetString("class", lua.LString(e.ClassName()))
	t.RawSetString("message", lua.LString(e.Message()))
	if e.Code != "" {
		t.RawSetString("code", lua.LString(e.Code))
	}
	c.L.SetMetatable(t, c.L.GetTypeMetatable(errorTypeName))
	return t
}
