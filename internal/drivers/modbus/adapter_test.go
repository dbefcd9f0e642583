package modbus

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

func TestParseAddress(t *testing.T) {
	loc, err := parseAddress("hr:10")
	require.NoError(t, err)
	assert.Equal(t, areaHolding, loc.area)
	assert.Equal(t, uint16(10), loc.offset)

	loc, err = parseAddress("COIL:3")
	require.NoError(t, err)
	assert.Equal(t, areaCoil, loc.area)

	for _, bad := range []string{"hr10", "xx:1", "hr:-1", "hr:70000", "hr:abc"} {
		_, err := parseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegisterCount(t *testing.T) {
	tests := []struct {
		dt   types.DataType
		want int
	}{
		{types.DataTypeBool, 1},
		{types.DataTypeUint16, 1},
		{types.DataTypeInt32, 2},
		{types.DataTypeFloat32, 2},
		{types.DataTypeFloat64, 4},
	}
	for _, tt := range tests {
		n, err := registerCount(tt.dt)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n)
	}

	_, err := registerCount(types.DataTypeString)
	assert.Error(t, err)
}

func TestRegisterEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name  string
		dt    types.DataType
		value any
	}{
		{"uint16", types.DataTypeUint16, uint16(0xBEEF)},
		{"int16 negative", types.DataTypeInt16, int16(-2)},
		{"int32", types.DataTypeInt32, int32(-100000)},
		{"uint32", types.DataTypeUint32, uint32(3_000_000_000)},
		{"float32", types.DataTypeFloat32, float32(3.14)},
		{"float64", types.DataTypeFloat64, math.Pi},
		{"int64", types.DataTypeInt64, int64(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regs, err := encodeRegisters(tt.dt, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.value, decodeRegisters(tt.dt, regs))
		})
	}
}

func TestEncodeRegistersBoolToRegister(t *testing.T) {
	regs, err := encodeRegisters(types.DataTypeBool, true)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1}, regs)
	assert.Equal(t, true, decodeRegisters(types.DataTypeBool, regs))
}
