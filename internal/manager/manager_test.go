package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/config"
	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers"
	"github.com/Simumatik/simumatik-driver-manager/internal/events"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
	"github.com/Simumatik/simumatik-driver-manager/internal/vartable"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ShutdownTimeout: 2 * time.Second},
		Manager: config.ManagerConfig{
			DefaultPollInterval: 10 * time.Millisecond,
			DefaultCycleTimeout: 100 * time.Millisecond,
			DefaultStaleAfter:   time.Minute,
			DefaultBadAfter:     2 * time.Minute,
			DefaultWriteRetries: 1,
		},
		Drivers: []config.DriverConfig{
			{
				Name:     "sim",
				Kind:     "loopback",
				Endpoint: "local",
				Variables: []config.VariableConfig{
					{Address: "counter", Type: "int32", Mode: "both"},
					{Address: "label", Type: "string", Mode: "both"},
				},
			},
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := New(testConfig(), drivers.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	return mgr
}

func TestNewRejectsUnknownKind(t *testing.T) {
	cfg := testConfig()
	cfg.Drivers[0].Kind = "profinet"

	_, err := New(cfg, drivers.NewRegistry(), zap.NewNop())
	assert.Error(t, err)
}

func TestNewRejectsDuplicateDriverName(t *testing.T) {
	cfg := testConfig()
	cfg.Drivers = append(cfg.Drivers, cfg.Drivers[0])

	_, err := New(cfg, drivers.NewRegistry(), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrConfiguration)
}

func TestNewRejectsBadVariableType(t *testing.T) {
	cfg := testConfig()
	cfg.Drivers[0].Variables[0].Type = "quaternion"

	_, err := New(cfg, drivers.NewRegistry(), zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrConfiguration)
}

func TestWriteReadRoundtrip(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Start(context.Background())
	defer mgr.Shutdown(context.Background())

	require.NoError(t, mgr.Set("sim.counter", 42))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := mgr.Get("sim.counter")
		require.NoError(t, err)
		if snap.Quality == types.QualityGood && snap.Value == int32(42) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("written value never round-tripped through the endpoint")
}

func TestGetUnknownVariable(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Get("sim.missing")
	assert.ErrorIs(t, err, vartable.ErrNotFound)
}

func TestSetRejectsWrongType(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.Set("sim.counter", "not a number")
	assert.ErrorIs(t, err, driver.ErrConfiguration)
}

func TestRuntimeDeclare(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.Declare("sim.extra", "float64", "both"))
	snap, err := mgr.Get("sim.extra")
	require.NoError(t, err)
	assert.Equal(t, types.QualityBad, snap.Quality)

	assert.Error(t, mgr.Declare("nodot", "float64", "both"))
	assert.Error(t, mgr.Declare("ghost.v1", "float64", "both"))
	assert.Error(t, mgr.Declare("sim.bad", "quaternion", "both"))
}

func TestRuntimeDeclareReachesConnectedAdapter(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Start(context.Background())
	defer mgr.Shutdown(context.Background())

	// Wait for the initial connect before declaring, so the declaration hits
	// an adapter that already built its address map.
	waitForQuality(t, mgr, "sim.counter", types.QualityGood)

	require.NoError(t, mgr.Declare("sim.extra", "float64", "both"))

	// The driver cycles its connection and the new address starts polling.
	waitForQuality(t, mgr, "sim.extra", types.QualityGood)
	snap, err := mgr.Get("sim.extra")
	require.NoError(t, err)
	assert.Equal(t, float64(0), snap.Value)
}

func waitForQuality(t *testing.T, mgr *Manager, id string, want types.Quality) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := mgr.Get(id)
		require.NoError(t, err)
		if snap.Quality == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never reached quality %s", id, want)
}

func TestStatusAndDriverViews(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Start(context.Background())
	defer mgr.Shutdown(context.Background())

	st := mgr.Status()
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, 1, st.DriverCount)
	assert.Equal(t, 2, st.VariableCount)

	list := mgr.Drivers()
	require.Len(t, list, 1)
	assert.Equal(t, "sim", list[0].Driver)
	assert.Equal(t, "loopback", list[0].Kind)

	detail, err := mgr.Driver("sim")
	require.NoError(t, err)
	assert.Len(t, detail.Variables, 2)

	_, err = mgr.Driver("ghost")
	assert.Error(t, err)
}

func TestEventsStream(t *testing.T) {
	mgr := newTestManager(t)
	ch, cancel := mgr.Events(64)
	defer cancel()

	mgr.Start(context.Background())
	defer mgr.Shutdown(context.Background())

	deadline := time.After(2 * time.Second)
	sawState := false
	for !sawState {
		select {
		case evt := <-ch:
			if evt.Type == events.TypeDriverState && evt.State == "CONNECTED" {
				sawState = true
			}
		case <-deadline:
			t.Fatal("no CONNECTED event observed")
		}
	}
}

func TestShutdownBoundedAndIdempotent(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Start(context.Background())

	start := time.Now()
	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 3*time.Second)

	// Second shutdown is a no-op.
	require.NoError(t, mgr.Shutdown(context.Background()))
}
