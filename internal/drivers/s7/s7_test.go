package s7

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

func TestParseAddress(t *testing.T) {
	loc, err := parseAddress("db5:10")
	require.NoError(t, err)
	assert.Equal(t, 5, loc.dbNumber)
	assert.False(t, loc.isMarker)
	assert.Equal(t, 10, loc.offset)
	assert.Equal(t, -1, loc.bit)

	loc, err = parseAddress("DB12:4.7")
	require.NoError(t, err)
	assert.Equal(t, 12, loc.dbNumber)
	assert.Equal(t, 4, loc.offset)
	assert.Equal(t, 7, loc.bit)

	loc, err = parseAddress("m:20.0")
	require.NoError(t, err)
	assert.True(t, loc.isMarker)
	assert.Equal(t, 20, loc.offset)
	assert.Equal(t, 0, loc.bit)

	for _, bad := range []string{"db5", "db0:1", "dbx:1", "q:5", "db5:-1", "db5:1.8", "db5:1.x"} {
		_, err := parseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		dt   types.DataType
		want int
	}{
		{types.DataTypeBool, 1},
		{types.DataTypeInt16, 2},
		{types.DataTypeUint32, 4},
		{types.DataTypeFloat32, 4},
		{types.DataTypeFloat64, 8},
		{types.DataTypeInt64, 8},
	}
	for _, tt := range tests {
		n, err := byteSize(tt.dt)
		require.NoError(t, err)
		assert.Equal(t, tt.want, n)
	}

	_, err := byteSize(types.DataTypeString)
	assert.Error(t, err)
}

func TestBytesEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name  string
		dt    types.DataType
		value any
	}{
		{"int16", types.DataTypeInt16, int16(-300)},
		{"uint16", types.DataTypeUint16, uint16(65000)},
		{"int32", types.DataTypeInt32, int32(-1_000_000)},
		{"uint32", types.DataTypeUint32, uint32(4_000_000_000)},
		{"float32", types.DataTypeFloat32, float32(22.5)},
		{"float64", types.DataTypeFloat64, -0.125},
		{"int64", types.DataTypeInt64, int64(1) << 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := encodeBytes(tt.dt, tt.value)
			require.NotNil(t, buf)
			assert.Equal(t, tt.value, decodeBytes(tt.dt, buf))
		})
	}
}
