// Package scheduler runs the poll/write cycles. Every driver gets its own
// goroutine and its own cadence, so a slow or hung endpoint degrades only
// its own variables. Cycle I/O runs in a detached goroutine bounded by the
// cycle timeout; an overrunning cycle is abandoned, never awaited, and its
// results are never committed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/events"
	"github.com/Simumatik/simumatik-driver-manager/internal/supervisor"
	"github.com/Simumatik/simumatik-driver-manager/internal/vartable"
)

// Config holds the per-driver cycle tuning.
type Config struct {
	Interval     time.Duration // poll cadence
	CycleTimeout time.Duration // wall-clock budget for one cycle
	StaleAfter   time.Duration // GOOD → STALE threshold
	BadAfter     time.Duration // STALE → BAD threshold
	WriteRetries int           // retries before a pending write is dropped
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = c.Interval * 5
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Second
	}
	if c.BadAfter <= 0 {
		c.BadAfter = 30 * time.Second
	}
	if c.WriteRetries < 0 {
		c.WriteRetries = 0
	}
	return c
}

type entry struct {
	sup  *supervisor.Supervisor
	cfg  Config
	stop chan struct{}
}

type Scheduler struct {
	table  *vartable.Table
	bus    *events.Bus
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	wg      sync.WaitGroup
}

func New(table *vartable.Table, bus *events.Bus, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		table:   table,
		bus:     bus,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Add enters a supervised driver into the schedule. Must be called before
// Start.
func (s *Scheduler) Add(sup *supervisor.Supervisor, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	name := sup.Name()
	if _, exists := s.entries[name]; exists {
		return driver.Configurationf("driver %q already scheduled", name)
	}
	s.entries[name] = &entry{
		sup:  sup,
		cfg:  cfg.withDefaults(),
		stop: make(chan struct{}),
	}
	return nil
}

// Start launches one loop goroutine per driver. The context cancels all
// outstanding cycle waits on shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.runLoop(ctx, e)
	}
	s.logger.Info("Scheduler started", zap.Int("drivers", len(s.entries)))
}

// Stop ends all driver loops and waits for them, bounded by the timeout.
// Abandoned cycle goroutines are not awaited; they die with their adapters.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	for _, e := range s.entries {
		select {
		case <-e.stop:
		default:
			close(e.stop)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler stop: shutdown timeout exceeded")
	}
}

func (s *Scheduler) runLoop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			s.tick(ctx, e)
		}
	}
}

// tick runs one scheduling decision for one driver: decay quality, then
// either reconnect or run a cycle depending on supervisor state.
func (s *Scheduler) tick(ctx context.Context, e *entry) {
	name := e.sup.Name()
	now := time.Now()

	for _, u := range s.table.Decay(name, e.cfg.StaleAfter, e.cfg.BadAfter, now) {
		s.bus.VariableUpdate(u.Driver, u.ID, u.Value, string(u.Quality))
	}

	switch e.sup.State() {
	case supervisor.StateConnected:
		s.runCycle(ctx, e)
	default:
		if !e.sup.ShouldAttemptConnect(now) {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout)
		// Connect result is reflected in supervisor state; nothing to do
		// with the error here.
		_ = e.sup.Connect(cctx)
		cancel()
	}
}

// cycleOutcome carries everything a detached cycle goroutine produced back
// to the loop. Results are committed by the loop alone, so once the loop
// stops waiting nothing from the cycle can reach the table.
type cycleOutcome struct {
	healthErr    error
	writeResults []driver.WriteResult
	writeErr     error
	readResults  []driver.ReadResult
	readErr      error
}

func (s *Scheduler) runCycle(ctx context.Context, e *entry) {
	name := e.sup.Name()
	drv := e.sup.Driver()

	items := s.table.PendingWrites(name)
	addrs := s.table.ReadAddresses(name)

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout)
	defer cancel()

	done := make(chan *cycleOutcome, 1)
	go func() {
		out := &cycleOutcome{}
		out.healthErr = drv.HealthCheck(cctx)
		if out.healthErr == nil {
			if len(items) > 0 {
				out.writeResults, out.writeErr = drv.WriteBatch(cctx, items)
			}
			if out.writeErr == nil && len(addrs) > 0 {
				out.readResults, out.readErr = drv.ReadBatch(cctx, addrs)
			}
		}
		done <- out
	}()

	select {
	case out := <-done:
		s.commit(e, out)
	case <-cctx.Done():
		s.table.AbortWrites(name)
		if ctx.Err() != nil {
			// Shutdown cancelled the cycle; no fault, the supervisor is
			// about to be stopped anyway.
			return
		}
		e.sup.Fault(driver.Timeoutf("cycle exceeded %s budget", e.cfg.CycleTimeout))
	}
}

func (s *Scheduler) commit(e *entry, out *cycleOutcome) {
	name := e.sup.Name()

	if out.healthErr != nil {
		s.table.AbortWrites(name)
		e.sup.HealthFailure(out.healthErr)
		return
	}
	e.sup.HealthOK()

	if out.writeErr != nil {
		s.table.AbortWrites(name)
		e.sup.Fault(driver.Transportf("write batch: %v", out.writeErr))
		return
	}
	for _, res := range out.writeResults {
		if res.Err == nil {
			s.table.CompleteWrite(name, res.Address)
			continue
		}
		if dropped := s.table.FailWrite(name, res.Address, e.cfg.WriteRetries); dropped {
			id := vartable.Spec{Driver: name, Address: res.Address}.ID()
			s.logger.Warn("Pending write dropped after retries",
				zap.String("variable", id),
				zap.Int("retries", e.cfg.WriteRetries),
				zap.Error(res.Err))
			s.bus.WriteFailure(name, id, res.Err)
		}
	}

	if out.readErr != nil {
		e.sup.Fault(driver.Transportf("read batch: %v", out.readErr))
		return
	}
	for _, u := range s.table.CommitReadResults(name, out.readResults, time.Now()) {
		s.bus.VariableUpdate(u.Driver, u.ID, u.Value, string(u.Quality))
	}
}
