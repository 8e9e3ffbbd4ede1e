package packet

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrTruncated    = errors.New("packet: truncated datagram")
	ErrSizeMismatch = errors.New("packet: datagram exceeds packet size")
	ErrMalformed    = errors.New("packet: non-finite field value")
)

// FieldError names a field whose decoded value violates the finite-value
// constraint.
type FieldError struct {
	Field string  `json:"field"`
	Value float32 `json:"-"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s is %s", e.Field, e.Reason())
}

// Reason describes the offending value ("NaN", "+Inf" or "-Inf").
func (e FieldError) Reason() string {
	v := float64(e.Value)
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	default:
		return "finite"
	}
}

// MarshalJSON renders the reason instead of the raw value, which JSON
// cannot represent.
func (e FieldError) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"field":%q,"reason":%q}`, e.Field, e.Reason())), nil
}

// MalformedError is returned by a strict Decoder when one or more
// finite-only fields hold NaN or infinity. It matches ErrMalformed.
type MalformedError struct {
	Fields []FieldError
}

func (e *MalformedError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Error()
	}
	return fmt.Sprintf("%v: %s", ErrMalformed, strings.Join(names, ", "))
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}
