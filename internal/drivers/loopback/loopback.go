// Package loopback implements an in-memory endpoint for development and
// testing. Writes land in a local map and reads return whatever was last
// written; unwritten addresses read as the declared type's zero value.
package loopback

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
)

type Adapter struct {
	name   string
	logger *zap.Logger

	mu        sync.RWMutex
	connected bool
	defs      map[string]driver.VariableDef
	values    map[string]any
}

func New(name string, logger *zap.Logger) driver.Driver {
	return &Adapter{
		name:   name,
		logger: logger,
		defs:   make(map[string]driver.VariableDef),
		values: make(map[string]any),
	}
}

func (a *Adapter) Connect(ctx context.Context, params driver.Params) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	for _, v := range params.Variables {
		a.defs[v.Address] = v
	}
	a.connected = true
	a.logger.Info("loopback connected", zap.String("driver", a.name))
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return driver.Connectionf("loopback %s: not connected", a.name)
	}
	return nil
}

func (a *Adapter) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.connected {
		return nil, driver.Connectionf("loopback %s: not connected", a.name)
	}

	results := make([]driver.ReadResult, 0, len(addresses))
	for _, addr := range addresses {
		def, ok := a.defs[addr]
		if !ok {
			results = append(results, driver.ReadResult{
				Address: addr,
				Err:     driver.Configurationf("loopback %s: undeclared address %s", a.name, addr),
			})
			continue
		}
		value, ok := a.values[addr]
		if !ok {
			value = def.Type.Zero()
		}
		results = append(results, driver.ReadResult{Address: addr, Value: value})
	}
	return results, nil
}

func (a *Adapter) WriteBatch(ctx context.Context, items []driver.WriteItem) ([]driver.WriteResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, driver.Connectionf("loopback %s: not connected", a.name)
	}

	results := make([]driver.WriteResult, 0, len(items))
	for _, item := range items {
		def, ok := a.defs[item.Address]
		if !ok {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("loopback %s: undeclared address %s", a.name, item.Address),
			})
			continue
		}
		value, err := def.Type.Coerce(item.Value)
		if err != nil {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("loopback %s: write %s: %v", a.name, item.Address, err),
			})
			continue
		}
		a.values[item.Address] = value
		results = append(results, driver.WriteResult{Address: item.Address})
	}
	return results, nil
}
