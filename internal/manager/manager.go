// Package manager is the public entry point of the driver manager: it turns
// configuration into driver registrations, owns the variable table, the
// scheduler and one supervisor per driver, and exposes the Declare/Get/Set
// surface the consuming engine calls.
package manager

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/config"
	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/events"
	"github.com/Simumatik/simumatik-driver-manager/internal/retry"
	"github.com/Simumatik/simumatik-driver-manager/internal/scheduler"
	"github.com/Simumatik/simumatik-driver-manager/internal/supervisor"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
	"github.com/Simumatik/simumatik-driver-manager/internal/vartable"
)

// Status is the manager-level view served by the REST API.
type Status struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	DriverCount   int       `json:"driver_count"`
	VariableCount int       `json:"variable_count"`
	Connected     int       `json:"connected_drivers"`
}

// DriverDetail combines a supervisor snapshot with the driver's variables.
type DriverDetail struct {
	supervisor.Snapshot
	Kind      string              `json:"kind"`
	Endpoint  string              `json:"endpoint"`
	Variables []vartable.Snapshot `json:"variables"`
}

type registration struct {
	cfg config.DriverConfig
	sup *supervisor.Supervisor
}

type Manager struct {
	id       uuid.UUID
	cfg      *config.Config
	registry *driver.Registry
	table    *vartable.Table
	bus      *events.Bus
	sched    *scheduler.Scheduler
	logger   *zap.Logger

	mu    sync.RWMutex
	regs  map[string]*registration
	order []string

	startedAt    time.Time
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New builds a manager from configuration. Every malformed driver or
// variable entry fails here, synchronously, before any connection is opened.
func New(cfg *config.Config, registry *driver.Registry, logger *zap.Logger) (*Manager, error) {
	table := vartable.New()
	bus := events.NewBus(logger)

	m := &Manager{
		id:       uuid.New(),
		cfg:      cfg,
		registry: registry,
		table:    table,
		bus:      bus,
		sched:    scheduler.New(table, bus, logger),
		logger:   logger,
		regs:     make(map[string]*registration),
	}

	loader := config.NewProfileLoader(cfg.Profiles.SearchPaths)

	for i := range cfg.Drivers {
		dc := cfg.Drivers[i]
		if _, exists := m.regs[dc.Name]; exists {
			return nil, driver.Configurationf("duplicate driver name: %q", dc.Name)
		}
		cfg.ApplyDefaults(&dc)

		vars := dc.Variables
		if dc.Profile != "" {
			profileVars, err := loader.Load(dc.Profile)
			if err != nil {
				return nil, driver.Configurationf("driver %s: %v", dc.Name, err)
			}
			vars = append(vars, profileVars...)
		}
		for _, vc := range vars {
			spec, err := variableSpec(dc.Name, vc)
			if err != nil {
				return nil, err
			}
			if err := table.Declare(spec); err != nil {
				return nil, err
			}
		}

		drv, err := registry.New(dc.Kind, dc.Name, logger)
		if err != nil {
			return nil, err
		}

		params := driver.Params{
			Endpoint:  dc.Endpoint,
			Username:  dc.Username,
			Password:  dc.Password,
			Timeout:   dc.Timeout,
			Options:   dc.Options,
			Variables: table.VariableDefs(dc.Name),
		}
		policy := retry.Policy{
			InitialDelay: dc.Backoff.InitialDelay,
			MaxDelay:     dc.Backoff.MaxDelay,
			Multiplier:   dc.Backoff.Multiplier,
			AddJitter:    dc.Backoff.Jitter,
		}
		sup := supervisor.New(dc.Name, drv, params, policy, bus, logger)

		if err := m.sched.Add(sup, scheduler.Config{
			Interval:     dc.PollInterval,
			CycleTimeout: dc.CycleTimeout,
			StaleAfter:   dc.StaleAfter,
			BadAfter:     dc.BadAfter,
			WriteRetries: *dc.WriteRetries,
		}); err != nil {
			return nil, err
		}

		m.regs[dc.Name] = &registration{cfg: dc, sup: sup}
		m.order = append(m.order, dc.Name)

		logger.Info("Driver registered",
			zap.String("driver", dc.Name),
			zap.String("kind", dc.Kind),
			zap.String("endpoint", dc.Endpoint),
			zap.Int("variables", len(vars)))
	}

	return m, nil
}

func variableSpec(driverName string, vc config.VariableConfig) (vartable.Spec, error) {
	dt, err := types.ParseDataType(vc.Type)
	if err != nil {
		return vartable.Spec{}, driver.Configurationf("driver %s, variable %s: %v", driverName, vc.Address, err)
	}
	mode, ok := types.ParseMode(vc.Mode)
	if !ok {
		return vartable.Spec{}, driver.Configurationf("driver %s, variable %s: unknown mode %q", driverName, vc.Address, vc.Mode)
	}
	return vartable.Spec{Driver: driverName, Address: vc.Address, Type: dt, Mode: mode}, nil
}

// Start launches the scheduler. Drivers connect on their own loops; Start
// itself does not wait for any endpoint.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.startedAt = time.Now()
	m.sched.Start(runCtx)
	m.logger.Info("Driver manager started",
		zap.String("id", m.id.String()),
		zap.Int("drivers", len(m.regs)))
}

// Declare registers an additional variable at runtime. The owning driver
// must exist. When the declaration changes the driver's variable set, the
// new defs are pushed to its supervisor and a live connection is cycled so
// the adapter re-subscribes with the new set.
func (m *Manager) Declare(id string, dataType, mode string) error {
	driverName, address, ok := vartable.SplitID(id)
	if !ok {
		return driver.Configurationf("invalid variable id: %q", id)
	}

	m.mu.RLock()
	reg, exists := m.regs[driverName]
	m.mu.RUnlock()
	if !exists {
		return driver.Configurationf("unknown driver: %q", driverName)
	}

	spec, err := variableSpec(driverName, config.VariableConfig{
		Address: address,
		Type:    dataType,
		Mode:    mode,
	})
	if err != nil {
		return err
	}

	before := m.table.VariableDefs(driverName)
	if err := m.table.Declare(spec); err != nil {
		return err
	}
	after := m.table.VariableDefs(driverName)
	if !slices.Equal(before, after) {
		reg.sup.UpdateVariables(context.Background(), after)
	}
	return nil
}

// Get returns the last committed snapshot of a variable. It never blocks on
// driver I/O and never raises for a faulted driver; quality tells the caller
// how fresh the value is.
func (m *Manager) Get(id string) (vartable.Snapshot, error) {
	return m.table.Get(id)
}

// Set queues a value into the variable's pending-write slot; delivery
// happens asynchronously on the owning driver's next write flush.
func (m *Manager) Set(id string, value any) error {
	return m.table.Set(id, value)
}

// Events subscribes to the lifecycle/update/write-failure stream.
func (m *Manager) Events(buffer int) (<-chan events.Event, func()) {
	return m.bus.Subscribe(buffer)
}

// Drivers lists all registrations with their current supervisor state.
func (m *Manager) Drivers() []DriverDetail {
	m.mu.RLock()
	defer m.mu.RUnlock()

	details := make([]DriverDetail, 0, len(m.order))
	for _, name := range m.order {
		reg := m.regs[name]
		details = append(details, DriverDetail{
			Snapshot: reg.sup.Info(),
			Kind:     reg.cfg.Kind,
			Endpoint: reg.cfg.Endpoint,
		})
	}
	return details
}

// Driver returns one registration including its variable snapshots.
func (m *Manager) Driver(name string) (DriverDetail, error) {
	m.mu.RLock()
	reg, exists := m.regs[name]
	m.mu.RUnlock()
	if !exists {
		return DriverDetail{}, fmt.Errorf("unknown driver: %q", name)
	}
	return DriverDetail{
		Snapshot:  reg.sup.Info(),
		Kind:      reg.cfg.Kind,
		Endpoint:  reg.cfg.Endpoint,
		Variables: m.table.Snapshots(name),
	}, nil
}

// Status returns manager level statistics.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connected := 0
	for _, reg := range m.regs {
		if reg.sup.State() == supervisor.StateConnected {
			connected++
		}
	}
	st := Status{
		ID:            m.id.String(),
		StartedAt:     m.startedAt,
		DriverCount:   len(m.regs),
		VariableCount: m.table.Count(),
		Connected:     connected,
	}
	if !m.startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(m.startedAt).Seconds())
	}
	return st
}

// Shutdown stops the scheduler, disconnects all drivers and closes the
// event stream. It blocks until in-flight cycles finished or were
// abandoned, bounded by the context deadline or the configured timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	m.shutdownOnce.Do(func() {
		m.logger.Info("Shutting down driver manager")

		if m.cancel != nil {
			m.cancel()
		}

		timeout := m.cfg.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if timeout <= 0 {
			timeout = time.Second
		}
		if err := m.sched.Stop(timeout); err != nil {
			shutdownErr = err
		}

		var wg sync.WaitGroup
		m.mu.RLock()
		for _, reg := range m.regs {
			wg.Add(1)
			go func(sup *supervisor.Supervisor) {
				defer wg.Done()
				sup.Stop(ctx)
			}(reg.sup)
		}
		m.mu.RUnlock()
		wg.Wait()

		m.bus.Close()
		m.logger.Info("Driver manager stopped")
	})

	return shutdownErr
}
