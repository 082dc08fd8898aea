package marshal

import (
	"encoding/json"
	stderrors "errors"
	"math"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"github.com/wippyai/opcore/errors"
)

var (
	bufferPtrType = reflect.TypeFor[*Buffer]()
	byteSliceType = reflect.TypeFor[[]byte]()
)

// Native shapes plain Go values. Assignable values and byte views pass
// through without copying. Everything else is decoded with mapstructure:
// maps fill structs by their json field names, numbers convert with range
// checks and no other type coercion takes place.
type Native struct{}

// Decode stores native into the value pointed to by into.
func (Native) Decode(native any, into any) error {
	rv := reflect.ValueOf(into)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New(errors.PhaseDecode, errors.KindInternal).
			Detail("decode target must be a non-nil pointer, got %T", into).
			Build()
	}
	dst := rv.Elem()

	if native == nil {
		dst.SetZero()
		return nil
	}
	if assignDirect(dst, reflect.ValueOf(native)) {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.ComposeDecodeHookFunc(bufferHook, numberHook),
		ErrorUnused: true,
		ZeroFields:  true,
		TagName:     "json",
		Result:      into,
	})
	if err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInternal, err, "build decoder")
	}
	if err := dec.Decode(native); err != nil {
		var typed *errors.Error
		if stderrors.As(err, &typed) && typed.Kind == errors.KindArgumentDecode {
			return typed
		}
		return decodeErr(dst.Type(), native, err)
	}
	return nil
}

// Encode normalises v for the script side. Values built from basic kinds,
// slices and maps pass through unchanged; anything containing a struct is
// converted to generic maps and slices using its JSON field names.
func (Native) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == bufferPtrType || !containsStruct(rv.Type(), 0) {
		return v, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(errors.PhaseEncode, errors.KindEncode).
			GoType(rv.Type().String()).
			Cause(err).
			Build()
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.New(errors.PhaseEncode, errors.KindEncode).
			GoType(rv.Type().String()).
			Cause(err).
			Build()
	}
	return out, nil
}

// assignDirect covers the shapes that must share memory with the source.
func assignDirect(dst, src reflect.Value) bool {
	dt, st := dst.Type(), src.Type()

	switch {
	case st.AssignableTo(dt):
		dst.Set(src)
	case dt == byteSliceType && st == bufferPtrType:
		dst.SetBytes(src.Interface().(*Buffer).Bytes())
	case dt == bufferPtrType && st == byteSliceType:
		dst.Set(reflect.ValueOf(BufferFrom(src.Bytes())))
	default:
		return false
	}
	return true
}

// bufferHook converts between buffers, byte slices and strings nested inside
// tables.
func bufferHook(from, to reflect.Value) (any, error) {
	ft, tt := from.Type(), to.Type()
	switch {
	case ft == bufferPtrType && tt == byteSliceType:
		return from.Interface().(*Buffer).Bytes(), nil
	case ft == byteSliceType && tt == bufferPtrType:
		return BufferFrom(from.Bytes()), nil
	case ft.Kind() == reflect.String && tt == byteSliceType:
		return []byte(from.String()), nil
	}
	return from.Interface(), nil
}

// numberHook converts between numeric kinds. The result already has the
// target type, so mapstructure only stores it.
func numberHook(from, to reflect.Value) (any, error) {
	if !isNumeric(from.Kind()) || !isNumeric(to.Kind()) {
		return from.Interface(), nil
	}
	out := reflect.New(to.Type()).Elem()
	if err := convertNumber(out, from); err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func convertNumber(dst, src reflect.Value) error {
	sk, dk := src.Kind(), dst.Kind()
	fail := func() error { return decodeErr(dst.Type(), src.Interface(), nil) }

	switch {
	case isInt(dk):
		var n int64
		switch {
		case isInt(sk):
			n = src.Int()
		case isUint(sk):
			if src.Uint() > math.MaxInt64 {
				return fail()
			}
			n = int64(src.Uint())
		default:
			f := src.Float()
			limit := math.Ldexp(1, dst.Type().Bits()-1)
			// NaN fails the first test, infinities the range test.
			if f != math.Trunc(f) || f < -limit || f >= limit {
				return fail()
			}
			n = int64(f)
		}
		if dst.OverflowInt(n) {
			return fail()
		}
		dst.SetInt(n)
	case isUint(dk):
		var n uint64
		switch {
		case isUint(sk):
			n = src.Uint()
		case isInt(sk):
			if src.Int() < 0 {
				return fail()
			}
			n = uint64(src.Int())
		default:
			f := src.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.Ldexp(1, dst.Type().Bits()) {
				return fail()
			}
			n = uint64(f)
		}
		if dst.OverflowUint(n) {
			return fail()
		}
		dst.SetUint(n)
	default:
		var f float64
		switch {
		case isInt(sk):
			f = float64(src.Int())
		case isUint(sk):
			f = float64(src.Uint())
		default:
			f = src.Float()
		}
		if dst.OverflowFloat(f) {
			return fail()
		}
		dst.SetFloat(f)
	}
	return nil
}

func decodeErr(t reflect.Type, v any, cause error) error {
	b := errors.New(errors.PhaseDecode, errors.KindArgumentDecode).
		GoType(t.String()).
		Value(v).
		Detail("cannot decode %T", v)
	if cause != nil {
		b = b.Cause(cause)
	}
	return b.Build()
}

func containsStruct(t reflect.Type, depth int) bool {
	if depth > 8 {
		return true
	}
	switch t.Kind() {
	case reflect.Struct:
		return true
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return containsStruct(t.Elem(), depth+1)
	case reflect.Map:
		return containsStruct(t.Elem(), depth+1)
	case reflect.Interface:
		// dynamic contents are resolved by the engine's own conversion
		return false
	default:
		return false
	}
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumeric(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || isFloat(k)
}
