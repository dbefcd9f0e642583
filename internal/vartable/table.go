// Package vartable implements the shared variable table: the single piece of
// state the engine and all drivers exchange values through. Synchronization
// is per driver group, so unrelated drivers never contend, while a commit of
// one driver's cycle stays atomic with respect to readers of that driver's
// variables.
package vartable

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

var (
	// ErrNotFound is returned for identities that were never declared.
	ErrNotFound = errors.New("variable not found")

	// ErrDuplicateVariable is returned when an identity is redeclared with a
	// conflicting type. Redeclaring with the same type is idempotent.
	ErrDuplicateVariable = fmt.Errorf("%w: variable redeclared with conflicting type", driver.ErrConfiguration)

	// ErrNotWritable is returned by Set on a read-only variable.
	ErrNotWritable = fmt.Errorf("%w: variable is not writable", driver.ErrConfiguration)
)

// Spec identifies and types one variable at declaration time.
type Spec struct {
	Driver  string
	Address string
	Type    types.DataType
	Mode    types.Mode
}

// ID returns the fully qualified variable identity.
func (s Spec) ID() string { return s.Driver + "." + s.Address }

// SplitID separates a variable identity into driver name and address.
func SplitID(id string) (driverName, address string, ok bool) {
	i := strings.Index(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// Snapshot is the last committed state of one variable.
type Snapshot struct {
	ID           string         `json:"id"`
	Driver       string         `json:"driver"`
	Address      string         `json:"address"`
	Type         types.DataType `json:"type"`
	Mode         types.Mode     `json:"mode"`
	Value        any            `json:"value"`
	Quality      types.Quality  `json:"quality"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Reads        uint64         `json:"reads"`
	Writes       uint64         `json:"writes"`
	PendingWrite bool           `json:"pending_write"`
}

// Update describes one observable change produced by a commit or a quality
// decay pass. Consumed by the event stream.
type Update struct {
	ID      string
	Driver  string
	Address string
	Value   any
	Quality types.Quality
}

type pendingWrite struct {
	value    any
	inFlight any // value sent in the current flush, nil when idle
	attempts int
}

type variable struct {
	spec      Spec
	value     any
	quality   types.Quality
	updatedAt time.Time
	reads     uint64
	writes    uint64
	pending   *pendingWrite
}

// group holds all variables of one driver. Its RWMutex is the atomicity
// unit: CommitReadResults takes the write lock, readers take the read lock,
// so a reader never observes a half-updated cycle.
type group struct {
	mu        sync.RWMutex
	byAddress map[string]*variable
	order     []*variable
}

// Table is the aggregate mapping from variable identity to variable state.
// One instance per manager, never a process-wide singleton.
type Table struct {
	mu     sync.RWMutex
	vars   map[string]*variable
	groups map[string]*group
}

func New() *Table {
	return &Table{
		vars:   make(map[string]*variable),
		groups: make(map[string]*group),
	}
}

// Declare registers a variable. It is idempotent: redeclaring the same
// identity with the same type succeeds and widens the mode if the new
// declaration adds a direction. A conflicting type is rejected.
func (t *Table) Declare(spec Spec) error {
	if spec.Driver == "" || spec.Address == "" {
		return driver.Configurationf("variable requires driver and address")
	}
	if _, err := types.ParseDataType(string(spec.Type)); err != nil {
		return driver.Configurationf("variable %s: %v", spec.ID(), err)
	}
	if spec.Mode == "" {
		spec.Mode = types.ModeBoth
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := spec.ID()
	if existing, ok := t.vars[id]; ok {
		g := t.groups[spec.Driver]
		g.mu.Lock()
		defer g.mu.Unlock()
		if existing.spec.Type != spec.Type {
			return fmt.Errorf("%w: %s declared as %s, redeclared as %s",
				ErrDuplicateVariable, id, existing.spec.Type, spec.Type)
		}
		if existing.spec.Mode != spec.Mode {
			existing.spec.Mode = types.ModeBoth
		}
		return nil
	}

	v := &variable{
		spec:    spec,
		quality: types.QualityBad,
	}
	if spec.Mode == types.ModeWrite {
		v.value = spec.Type.Zero()
	}

	g, ok := t.groups[spec.Driver]
	if !ok {
		g = &group{byAddress: make(map[string]*variable)}
		t.groups[spec.Driver] = g
	}
	t.vars[id] = v
	g.byAddress[spec.Address] = v
	g.order = append(g.order, v)
	return nil
}

func (t *Table) lookup(id string) (*group, *variable, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.vars[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.groups[v.spec.Driver], v, nil
}

// Get returns the last committed snapshot. It never blocks on driver I/O;
// the only wait possible is a commit of the owning driver in flight.
func (t *Table) Get(id string) (Snapshot, error) {
	g, v, err := t.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return snapshotOf(v), nil
}

// Set validates the value against the declared type and stores it into the
// pending-write slot. It returns immediately; delivery happens on the owning
// driver's next write flush. Repeated sets between flushes coalesce to the
// latest value.
func (t *Table) Set(id string, value any) error {
	g, v, err := t.lookup(id)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !v.spec.Mode.Writable() {
		return fmt.Errorf("%s: %w", id, ErrNotWritable)
	}
	coerced, err := v.spec.Type.Coerce(value)
	if err != nil {
		return driver.Configurationf("%s: %v", id, err)
	}
	v.pending = &pendingWrite{value: coerced}
	return nil
}

// ReadAddresses returns the addresses the owning driver polls, in
// declaration order. ReadBatch results are expected back in the same order.
func (t *Table) ReadAddresses(driverName string) []string {
	g := t.group(driverName)
	if g == nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	addrs := make([]string, 0, len(g.order))
	for _, v := range g.order {
		if v.spec.Mode.Readable() {
			addrs = append(addrs, v.spec.Address)
		}
	}
	return addrs
}

// PendingWrites collects the write items accumulated since the previous
// flush, in declaration order, and marks them in flight.
func (t *Table) PendingWrites(driverName string) []driver.WriteItem {
	g := t.group(driverName)
	if g == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var items []driver.WriteItem
	for _, v := range g.order {
		if v.pending == nil {
			continue
		}
		v.pending.inFlight = v.pending.value
		items = append(items, driver.WriteItem{Address: v.spec.Address, Value: v.pending.value})
	}
	return items
}

// CompleteWrite clears the pending slot after the endpoint acked the item.
// A value set by the engine while the flush was in flight survives and is
// delivered on the next cycle.
func (t *Table) CompleteWrite(driverName, address string) {
	g := t.group(driverName)
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.byAddress[address]
	if !ok || v.pending == nil {
		return
	}
	v.writes++
	if equalValues(v.pending.value, v.pending.inFlight) {
		v.pending = nil
	} else {
		v.pending.inFlight = nil
		v.pending.attempts = 0
	}
}

// FailWrite records a failed delivery attempt. The item stays pending until
// the retry budget is exhausted, then it is dropped and the caller reports a
// write failure event.
func (t *Table) FailWrite(driverName, address string, maxRetries int) (dropped bool) {
	g := t.group(driverName)
	if g == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.byAddress[address]
	if !ok || v.pending == nil {
		return false
	}
	v.pending.inFlight = nil
	v.pending.attempts++
	if v.pending.attempts > maxRetries {
		v.pending = nil
		return true
	}
	return false
}

// AbortWrites unmarks in-flight items after an abandoned cycle. No attempt
// is counted: the outcome of the batch is unknown and the items are simply
// retried after reconnect.
func (t *Table) AbortWrites(driverName string) {
	g := t.group(driverName)
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, v := range g.order {
		if v.pending != nil {
			v.pending.inFlight = nil
		}
	}
}

// CommitReadResults applies one cycle's results atomically for the driver.
// Per-item errors flip the affected variable to BAD without touching its
// siblings. The returned updates contain only observable changes.
func (t *Table) CommitReadResults(driverName string, results []driver.ReadResult, now time.Time) []Update {
	g := t.group(driverName)
	if g == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var updates []Update
	for _, res := range results {
		v, ok := g.byAddress[res.Address]
		if !ok {
			continue
		}
		if res.Err != nil {
			if v.quality != types.QualityBad {
				v.quality = types.QualityBad
				updates = append(updates, updateOf(v))
			}
			continue
		}
		coerced, err := v.spec.Type.Coerce(res.Value)
		if err != nil {
			if v.quality != types.QualityBad {
				v.quality = types.QualityBad
				updates = append(updates, updateOf(v))
			}
			continue
		}
		changed := v.quality != types.QualityGood || !equalValues(v.value, coerced)
		v.value = coerced
		v.quality = types.QualityGood
		v.updatedAt = now
		v.reads++
		if changed {
			updates = append(updates, updateOf(v))
		}
	}
	return updates
}

// Decay downgrades quality of read variables whose last successful read is
// older than the configured thresholds: GOOD turns STALE after staleAfter,
// STALE turns BAD after badAfter. Quality never upgrades without a read.
func (t *Table) Decay(driverName string, staleAfter, badAfter time.Duration, now time.Time) []Update {
	g := t.group(driverName)
	if g == nil {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var updates []Update
	for _, v := range g.order {
		if !v.spec.Mode.Readable() || v.updatedAt.IsZero() {
			continue
		}
		age := now.Sub(v.updatedAt)
		switch v.quality {
		case types.QualityGood:
			if staleAfter > 0 && age >= staleAfter {
				v.quality = types.QualityStale
				updates = append(updates, updateOf(v))
			}
		case types.QualityStale:
			if badAfter > 0 && age >= badAfter {
				v.quality = types.QualityBad
				updates = append(updates, updateOf(v))
			}
		}
	}
	return updates
}

// VariableDefs returns the declared variables of a driver, for adapter setup.
func (t *Table) VariableDefs(driverName string) []driver.VariableDef {
	g := t.group(driverName)
	if g == nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	defs := make([]driver.VariableDef, 0, len(g.order))
	for _, v := range g.order {
		defs = append(defs, driver.VariableDef{
			Address: v.spec.Address,
			Type:    v.spec.Type,
			Mode:    v.spec.Mode,
		})
	}
	return defs
}

// Snapshots returns the current state of all variables of a driver.
func (t *Table) Snapshots(driverName string) []Snapshot {
	g := t.group(driverName)
	if g == nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(g.order))
	for _, v := range g.order {
		snaps = append(snaps, snapshotOf(v))
	}
	return snaps
}

// Count returns the total number of declared variables.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vars)
}

func (t *Table) group(driverName string) *group {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.groups[driverName]
}

func snapshotOf(v *variable) Snapshot {
	return Snapshot{
		ID:           v.spec.ID(),
		Driver:       v.spec.Driver,
		Address:      v.spec.Address,
		Type:         v.spec.Type,
		Mode:         v.spec.Mode,
		Value:        v.value,
		Quality:      v.quality,
		UpdatedAt:    v.updatedAt,
		Reads:        v.reads,
		Writes:       v.writes,
		PendingWrite: v.pending != nil,
	}
}

func updateOf(v *variable) Update {
	return Update{
		ID:      v.spec.ID(),
		Driver:  v.spec.Driver,
		Address: v.spec.Address,
		Value:   v.value,
		Quality: v.quality,
	}
}

func equalValues(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	return a == b
}
