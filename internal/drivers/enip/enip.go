// Package enip implements the EtherNet/IP endpoint adapter for Allen-Bradley
// style controllers. Variable addresses are controller tag names; values move
// through CIP typed reads and writes.
package enip

import (
	"context"
	"sync"

	"github.com/danomagnum/gologix"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

// tagClient is the slice of the gologix client the adapter needs, kept as an
// interface so tests can stand in for a live controller.
type tagClient interface {
	Connect() error
	Disconnect() error
	Read(tag string, data any) error
	Write(tag string, value any) error
}

// newClient is swapped out in tests.
var newClient = func(endpoint string) tagClient {
	return gologix.NewClient(endpoint)
}

type Adapter struct {
	name   string
	logger *zap.Logger

	mu        sync.Mutex
	client    tagClient
	connected bool
	defs      map[string]driver.VariableDef
}

func New(name string, logger *zap.Logger) driver.Driver {
	return &Adapter{
		name:   name,
		logger: logger,
		defs:   make(map[string]driver.VariableDef),
	}
}

func (a *Adapter) Connect(ctx context.Context, params driver.Params) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	if params.Endpoint == "" {
		return driver.Configurationf("enip %s: endpoint is required", a.name)
	}

	defs := make(map[string]driver.VariableDef, len(params.Variables))
	for _, v := range params.Variables {
		switch v.Type {
		case types.DataTypeBytes:
			return driver.Configurationf("enip %s: tag %s: bytes is not a CIP tag type", a.name, v.Address)
		}
		defs[v.Address] = v
	}

	client := newClient(params.Endpoint)
	if err := client.Connect(); err != nil {
		return driver.Connectionf("enip %s: connect %s: %v", a.name, params.Endpoint, err)
	}

	a.client = client
	a.connected = true
	a.defs = defs
	a.logger.Info("enip connected",
		zap.String("driver", a.name),
		zap.String("endpoint", params.Endpoint))
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}
	a.connected = false

	err := a.client.Disconnect()
	a.client = nil
	return err
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return driver.Connectionf("enip %s: not connected", a.name)
	}
	return nil
}

func (a *Adapter) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, driver.Connectionf("enip %s: not connected", a.name)
	}

	results := make([]driver.ReadResult, 0, len(addresses))
	for _, addr := range addresses {
		def, ok := a.defs[addr]
		if !ok {
			results = append(results, driver.ReadResult{
				Address: addr,
				Err:     driver.Configurationf("enip %s: undeclared tag %s", a.name, addr),
			})
			continue
		}
		value, err := a.readTag(addr, def.Type)
		if err != nil {
			// Tag reads fail on socket loss before anything else; a failed
			// read means the session is gone.
			return nil, driver.Transportf("enip %s: read %s: %v", a.name, addr, err)
		}
		results = append(results, driver.ReadResult{Address: addr, Value: value})
	}
	return results, nil
}

func (a *Adapter) readTag(tag string, dt types.DataType) (any, error) {
	switch dt {
	case types.DataTypeBool:
		var v bool
		return v, readInto(a.client, tag, &v)
	case types.DataTypeInt16:
		var v int16
		return v, readInto(a.client, tag, &v)
	case types.DataTypeUint16:
		var v uint16
		return v, readInto(a.client, tag, &v)
	case types.DataTypeInt32:
		var v int32
		return v, readInto(a.client, tag, &v)
	case types.DataTypeUint32:
		var v uint32
		return v, readInto(a.client, tag, &v)
	case types.DataTypeInt64:
		var v int64
		return v, readInto(a.client, tag, &v)
	case types.DataTypeFloat32:
		var v float32
		return v, readInto(a.client, tag, &v)
	case types.DataTypeFloat64:
		var v float64
		return v, readInto(a.client, tag, &v)
	default:
		var v string
		return v, readInto(a.client, tag, &v)
	}
}

func readInto(client tagClient, tag string, dst any) error {
	return client.Read(tag, dst)
}

func (a *Adapter) WriteBatch(ctx context.Context, items []driver.WriteItem) ([]driver.WriteResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, driver.Connectionf("enip %s: not connected", a.name)
	}

	results := make([]driver.WriteResult, 0, len(items))
	for _, item := range items {
		def, ok := a.defs[item.Address]
		if !ok {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("enip %s: undeclared tag %s", a.name, item.Address),
			})
			continue
		}
		value, err := def.Type.Coerce(item.Value)
		if err != nil {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("enip %s: write %s: %v", a.name, item.Address, err),
			})
			continue
		}
		if err := a.client.Write(item.Address, value); err != nil {
			return nil, driver.Transportf("enip %s: write %s: %v", a.name, item.Address, err)
		}
		results = append(results, driver.WriteResult{Address: item.Address})
	}
	return results, nil
}
