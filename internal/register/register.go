// Package register converts data-block bytes read from the controller into
// engineering values.
package register

import (
	"errors"
	"fmt"

	"github.com/robinson/gos7"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

var (
	ErrUnsupportedType = errors.New("unsupported data type")
	ErrShortBuffer     = errors.New("buffer too short for data type")
)

// Value is a raw register value in its wire representation.
type Value struct {
	Type model.DataType
	Real float32
	Int  int16
	DInt int32
	Bool bool
}

// Size is the number of bytes a data type occupies at its start byte.
func Size(t model.DataType) int {
	switch t {
	case model.DataTypeReal, model.DataTypeDInt:
		return 4
	case model.DataTypeInt:
		return 2
	case model.DataTypeBool:
		return 1
	}
	return 0
}

// Parse reads a big-endian value of type t from the start of buf. Booleans
// are always bit 0 of the first byte.
func Parse(buf []byte, t model.DataType) (Value, error) {
	size := Size(t)
	if size == 0 {
		return Value{}, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
	if len(buf) < size {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortBuffer, t, size, len(buf))
	}

	var helper gos7.Helper
	v := Value{Type: t}
	switch t {
	case model.DataTypeReal:
		helper.GetValueAt(buf, 0, &v.Real)
	case model.DataTypeInt:
		helper.GetValueAt(buf, 0, &v.Int)
	case model.DataTypeDInt:
		helper.GetValueAt(buf, 0, &v.DInt)
	case model.DataTypeBool:
		v.Bool = helper.GetBoolAt(buf[0], 0)
	}
	return v, nil
}

// Float widens the raw value to float64.
func (v Value) Float() float64 {
	switch v.Type {
	case model.DataTypeReal:
		return float64(v.Real)
	case model.DataTypeInt:
		return float64(v.Int)
	case model.DataTypeDInt:
		return float64(v.DInt)
	case model.DataTypeBool:
		if v.Bool {
			return 1.0
		}
		return 0.0
	}
	return 0
}

// Decode returns raw*scale + offset.
func Decode(v Value, scale, offset float64) float64 {
	return v.Float()*scale + offset
}
