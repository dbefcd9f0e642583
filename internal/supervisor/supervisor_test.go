package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/events"
	"github.com/Simumatik/simumatik-driver-manager/internal/retry"
)

// fakeDriver counts calls and fails on demand.
type fakeDriver struct {
	connectErr    error
	connectCalls  atomic.Int32
	disconnects   atomic.Int32
	healthErr     error
	lastParams    driver.Params
}

func (f *fakeDriver) Connect(ctx context.Context, params driver.Params) error {
	f.connectCalls.Add(1)
	f.lastParams = params
	return f.connectErr
}

func (f *fakeDriver) Disconnect(ctx context.Context) error {
	f.disconnects.Add(1)
	return nil
}

func (f *fakeDriver) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	return nil, nil
}

func (f *fakeDriver) WriteBatch(ctx context.Context, items []driver.WriteItem) ([]driver.WriteResult, error) {
	return nil, nil
}

func (f *fakeDriver) HealthCheck(ctx context.Context) error {
	return f.healthErr
}

func newTestSupervisor(drv driver.Driver) *Supervisor {
	policy := retry.Policy{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
	return New("plc1", drv, driver.Params{Endpoint: "test:502"}, policy, events.NewBus(zap.NewNop()), zap.NewNop())
}

func TestConnectSuccess(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)

	require.Equal(t, StateDisconnected, sup.State())
	require.True(t, sup.ShouldAttemptConnect(time.Now()))

	require.NoError(t, sup.Connect(context.Background()))
	assert.Equal(t, StateConnected, sup.State())
	assert.EqualValues(t, 1, drv.connectCalls.Load())

	// Connected drivers never re-attempt.
	assert.False(t, sup.ShouldAttemptConnect(time.Now()))
}

func TestConnectIdempotent(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)

	require.NoError(t, sup.Connect(context.Background()))
	require.NoError(t, sup.Connect(context.Background()))

	assert.EqualValues(t, 1, drv.connectCalls.Load(), "second connect must be a no-op")
}

func TestConnectFailureSchedulesBackoff(t *testing.T) {
	drv := &fakeDriver{connectErr: errors.New("connection refused")}
	sup := newTestSupervisor(drv)

	err := sup.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFaulted, sup.State())

	info := sup.Info()
	assert.Equal(t, 1, info.Attempts)
	assert.Contains(t, info.LastError, "connection refused")
	assert.False(t, info.NextRetryAt.IsZero())

	// Not due yet right after the fault.
	assert.False(t, sup.ShouldAttemptConnect(time.Now()))
	// Due once the backoff delay has passed.
	assert.True(t, sup.ShouldAttemptConnect(time.Now().Add(time.Second)))
}

func TestBackoffGrowsPerAttempt(t *testing.T) {
	drv := &fakeDriver{connectErr: errors.New("down")}
	sup := newTestSupervisor(drv)

	require.Error(t, sup.Connect(context.Background()))
	first := sup.Info().NextRetryAt

	require.Error(t, sup.Connect(context.Background()))
	second := sup.Info().NextRetryAt

	assert.Equal(t, 2, sup.Info().Attempts)
	assert.True(t, second.After(first))
}

func TestConnectResetsAttemptCounter(t *testing.T) {
	drv := &fakeDriver{connectErr: errors.New("down")}
	sup := newTestSupervisor(drv)

	require.Error(t, sup.Connect(context.Background()))
	require.Error(t, sup.Connect(context.Background()))

	drv.connectErr = nil
	require.NoError(t, sup.Connect(context.Background()))

	assert.Equal(t, StateConnected, sup.State())
	assert.Equal(t, 0, sup.Info().Attempts)
}

func TestHealthFailureTwoStrikes(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)
	require.NoError(t, sup.Connect(context.Background()))

	probeErr := errors.New("probe timeout")

	assert.False(t, sup.HealthFailure(probeErr), "first strike keeps the driver connected")
	assert.Equal(t, StateConnected, sup.State())

	assert.True(t, sup.HealthFailure(probeErr), "second strike faults")
	assert.Equal(t, StateFaulted, sup.State())
}

func TestHealthOKResetsStrikes(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)
	require.NoError(t, sup.Connect(context.Background()))

	probeErr := errors.New("probe timeout")

	assert.False(t, sup.HealthFailure(probeErr))
	sup.HealthOK()
	assert.False(t, sup.HealthFailure(probeErr), "counter was reset, this is strike one again")
	assert.Equal(t, StateConnected, sup.State())
}

func TestFaultFromConnected(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)
	require.NoError(t, sup.Connect(context.Background()))

	sup.Fault(driver.Transportf("read batch: broken pipe"))
	assert.Equal(t, StateFaulted, sup.State())
	assert.Contains(t, sup.Info().LastError, "broken pipe")
}

func TestUpdateVariablesCyclesConnection(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)
	require.NoError(t, sup.Connect(context.Background()))

	defs := []driver.VariableDef{{Address: "hr:0", Type: "uint16", Mode: "both"}}
	sup.UpdateVariables(context.Background(), defs)

	assert.Equal(t, StateDisconnected, sup.State())
	assert.EqualValues(t, 1, drv.disconnects.Load())
	assert.True(t, sup.ShouldAttemptConnect(time.Now()), "reconnect must be due immediately")

	// The next connect hands the adapter the new variable set.
	require.NoError(t, sup.Connect(context.Background()))
	assert.Equal(t, defs, drv.lastParams.Variables)
}

func TestUpdateVariablesWhileDisconnected(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)

	sup.UpdateVariables(context.Background(), []driver.VariableDef{{Address: "m:1", Type: "bool", Mode: "read"}})

	assert.EqualValues(t, 0, drv.disconnects.Load(), "nothing to cycle when not connected")
	require.NoError(t, sup.Connect(context.Background()))
	assert.Len(t, drv.lastParams.Variables, 1)
}

func TestStopIsTerminal(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)
	require.NoError(t, sup.Connect(context.Background()))

	sup.Stop(context.Background())

	assert.Equal(t, StateDisconnected, sup.State())
	assert.True(t, sup.Stopped())
	assert.EqualValues(t, 1, drv.disconnects.Load())

	// Stopped supervisors never reconnect.
	assert.False(t, sup.ShouldAttemptConnect(time.Now().Add(time.Hour)))
	require.NoError(t, sup.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, sup.State())
	assert.EqualValues(t, 1, drv.connectCalls.Load())
}

func TestStopWhileDisconnectedSkipsDisconnect(t *testing.T) {
	drv := &fakeDriver{}
	sup := newTestSupervisor(drv)

	sup.Stop(context.Background())
	assert.Zero(t, drv.disconnects.Load())
}

func TestStateEventsPublished(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	drv := &fakeDriver{}
	sup := New("plc1", drv, driver.Params{}, retry.DefaultPolicy(), bus, zap.NewNop())
	require.NoError(t, sup.Connect(context.Background()))

	var states []string
	for len(states) < 2 {
		select {
		case evt := <-ch:
			states = append(states, evt.State)
		case <-time.After(time.Second):
			t.Fatal("missing state event")
		}
	}
	assert.Equal(t, []string{"CONNECTING", "CONNECTED"}, states)
}
