package loopback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

func connected(t *testing.T) driver.Driver {
	t.Helper()
	a := New("sim", zap.NewNop())
	err := a.Connect(context.Background(), driver.Params{
		Endpoint: "local",
		Variables: []driver.VariableDef{
			{Address: "counter", Type: types.DataTypeInt32, Mode: types.ModeBoth},
		},
	})
	require.NoError(t, err)
	return a
}

func TestUnwrittenAddressReadsZero(t *testing.T) {
	a := connected(t)

	results, err := a.ReadBatch(context.Background(), []string{"counter"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(0), results[0].Value)
}

func TestWriteThenRead(t *testing.T) {
	a := connected(t)

	wres, err := a.WriteBatch(context.Background(), []driver.WriteItem{{Address: "counter", Value: 7}})
	require.NoError(t, err)
	require.NoError(t, wres[0].Err)

	rres, err := a.ReadBatch(context.Background(), []string{"counter"})
	require.NoError(t, err)
	assert.Equal(t, int32(7), rres[0].Value)
}

func TestDisconnectedOperationsFail(t *testing.T) {
	a := connected(t)
	require.NoError(t, a.Disconnect(context.Background()))

	assert.Error(t, a.HealthCheck(context.Background()))
	_, err := a.ReadBatch(context.Background(), []string{"counter"})
	assert.ErrorIs(t, err, driver.ErrConnection)
}

func TestUndeclaredAddress(t *testing.T) {
	a := connected(t)

	results, err := a.ReadBatch(context.Background(), []string{"ghost"})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, driver.ErrConfiguration)
}
