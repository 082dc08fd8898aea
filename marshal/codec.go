package marshal

// Decoder converts a script-native value into the Go value pointed to by
// into.
type Decoder interface {
	Decode(native any, into any) error
}

// Encoder converts an op result into a script-native value.
type Encoder interface {
	Encode(v any) (any, error)
}

// Codec is the full marshalling collaborator used by the kernel.
type Codec interface {
	Decoder
	Encoder
}

// Default is the codec used when none is configured.
var Default Codec = Native{}
