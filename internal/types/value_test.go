package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataType(t *testing.T) {
	dt, err := ParseDataType("float32")
	require.NoError(t, err)
	assert.Equal(t, DataTypeFloat32, dt)

	_, err = ParseDataType("quaternion")
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		dt      DataType
		in      any
		want    any
		wantErr bool
	}{
		{name: "bool from bool", dt: DataTypeBool, in: true, want: true},
		{name: "bool from nonzero int", dt: DataTypeBool, in: 1, want: true},
		{name: "int16 from float64", dt: DataTypeInt16, in: float64(-42), want: int16(-42)},
		{name: "int16 overflow", dt: DataTypeInt16, in: 70000, wantErr: true},
		{name: "uint16 rejects negative", dt: DataTypeUint16, in: -1, wantErr: true},
		{name: "int32 from json number", dt: DataTypeInt32, in: float64(123456), want: int32(123456)},
		{name: "int32 rejects fraction", dt: DataTypeInt32, in: 1.5, wantErr: true},
		{name: "int64 keeps full width", dt: DataTypeInt64, in: int64(math.MaxInt64), want: int64(math.MaxInt64)},
		{name: "int64 above float precision", dt: DataTypeInt64, in: int64(1<<53 + 1), want: int64(1<<53 + 1)},
		{name: "int64 from small uint64", dt: DataTypeInt64, in: uint64(7), want: int64(7)},
		{name: "int64 rejects huge uint64", dt: DataTypeInt64, in: uint64(math.MaxInt64) + 1, wantErr: true},
		{name: "int64 rejects huge float", dt: DataTypeInt64, in: 1e19, wantErr: true},
		{name: "float32 from int", dt: DataTypeFloat32, in: 2, want: float32(2)},
		{name: "float64 passthrough", dt: DataTypeFloat64, in: 3.25, want: 3.25},
		{name: "string passthrough", dt: DataTypeString, in: "ok", want: "ok"},
		{name: "string from number", dt: DataTypeString, in: 5, want: "5"},
		{name: "bytes rejects number", dt: DataTypeBytes, in: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.dt.Coerce(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestZero(t *testing.T) {
	assert.Equal(t, false, DataTypeBool.Zero())
	assert.Equal(t, int32(0), DataTypeInt32.Zero())
	assert.Equal(t, float64(0), DataTypeFloat64.Zero())
	assert.Equal(t, "", DataTypeString.Zero())
}

func TestModeDirections(t *testing.T) {
	assert.True(t, ModeRead.Readable())
	assert.False(t, ModeRead.Writable())
	assert.True(t, ModeWrite.Writable())
	assert.False(t, ModeWrite.Readable())
	assert.True(t, ModeBoth.Readable())
	assert.True(t, ModeBoth.Writable())

	m, ok := ParseMode("")
	assert.True(t, ok)
	assert.Equal(t, ModeBoth, m)

	_, ok = ParseMode("sideways")
	assert.False(t, ok)
}
