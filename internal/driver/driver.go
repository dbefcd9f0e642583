package driver

import (
	"context"
	"time"

	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

// VariableDef describes one variable the adapter must be able to exchange.
// The full set owned by a driver is handed over in Params so the adapter can
// prepare address decoding before the first cycle.
type VariableDef struct {
	Address string
	Type    types.DataType
	Mode    types.Mode
}

// Params carries everything an adapter needs to reach its endpoint.
// Options holds protocol specific settings (rack/slot, unit id, QoS, ...)
// so the core never learns protocol vocabulary.
type Params struct {
	Endpoint  string
	Username  string
	Password  string
	Timeout   time.Duration
	Options   map[string]string
	Variables []VariableDef
}

// Option returns a protocol specific option or the given default.
func (p Params) Option(key, def string) string {
	if v, ok := p.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// ReadResult is one per-address outcome of a ReadBatch call, in request order.
type ReadResult struct {
	Address string
	Value   any
	Err     error
}

// WriteItem is one pending value to deliver in a WriteBatch call.
type WriteItem struct {
	Address string
	Value   any
}

// WriteResult is one per-item outcome of a WriteBatch call, in request order.
type WriteResult struct {
	Address string
	Err     error
}

// Driver is the capability contract every protocol adapter implements.
// All network I/O is confined behind this interface; no other component
// touches a socket or client library directly.
//
// Connect must be idempotent: calling it while connected is a no-op.
// ReadBatch and WriteBatch report per-item failures inside the result slice
// and only return an error for a transport-level failure affecting the whole
// batch, which the supervisor treats as connection loss. HealthCheck is a
// cheap probe run between cycles.
type Driver interface {
	Connect(ctx context.Context, params Params) error
	Disconnect(ctx context.Context) error
	ReadBatch(ctx context.Context, addresses []string) ([]ReadResult, error)
	WriteBatch(ctx context.Context, items []WriteItem) ([]WriteResult, error)
	HealthCheck(ctx context.Context) error
}
