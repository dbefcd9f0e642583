// Package modbus implements the Modbus/TCP endpoint adapter. Variable
// addresses select the data area and offset, e.g. "hr:0" (holding register),
// "ir:4" (input register), "coil:2" and "di:7" (discrete input). Multi-word
// values occupy consecutive registers in big-endian word order.
package modbus

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

type area string

const (
	areaHolding  area = "hr"
	areaInput    area = "ir"
	areaCoil     area = "coil"
	areaDiscrete area = "di"
)

type location struct {
	area   area
	offset uint16
}

func parseAddress(addr string) (location, error) {
	prefix, rest, ok := strings.Cut(addr, ":")
	if !ok {
		return location{}, fmt.Errorf("address %q: expected <area>:<offset>", addr)
	}

	a := area(strings.ToLower(prefix))
	switch a {
	case areaHolding, areaInput, areaCoil, areaDiscrete:
	default:
		return location{}, fmt.Errorf("address %q: unknown area %q", addr, prefix)
	}

	offset, err := strconv.ParseUint(rest, 10, 16)
	if err != nil {
		return location{}, fmt.Errorf("address %q: invalid offset: %w", addr, err)
	}

	return location{area: a, offset: uint16(offset)}, nil
}

// registerCount returns the number of 16-bit registers a data type occupies.
func registerCount(dt types.DataType) (int, error) {
	switch dt {
	case types.DataTypeBool, types.DataTypeInt16, types.DataTypeUint16:
		return 1, nil
	case types.DataTypeInt32, types.DataTypeUint32, types.DataTypeFloat32:
		return 2, nil
	case types.DataTypeInt64, types.DataTypeFloat64:
		return 4, nil
	default:
		return 0, fmt.Errorf("data type %s not representable in registers", dt)
	}
}

type Adapter struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	client *Client
	unitID uint8
	defs   map[string]driver.VariableDef
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

	if a.client != nil && a.client.Connected() {
		return nil
	}

	if params.Endpoint == "" {
		return driver.Configurationf("modbus %s: endpoint is required", a.name)
	}

	unitID := uint8(1)
	if raw := params.Option("unit_id", ""); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return driver.Configurationf("modbus %s: invalid unit_id %q", a.name, raw)
		}
		unitID = uint8(id)
	}

	defs := make(map[string]driver.VariableDef, len(params.Variables))
	for _, v := range params.Variables {
		loc, err := parseAddress(v.Address)
		if err != nil {
			return driver.Configurationf("modbus %s: %v", a.name, err)
		}
		if loc.area == areaCoil || loc.area == areaDiscrete {
			if v.Type != types.DataTypeBool {
				return driver.Configurationf("modbus %s: address %s requires bool, got %s", a.name, v.Address, v.Type)
			}
		} else if _, err := registerCount(v.Type); err != nil {
			return driver.Configurationf("modbus %s: address %s: %v", a.name, v.Address, err)
		}
		defs[v.Address] = v
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := NewClient(params.Endpoint, timeout)
	if err := client.Connect(ctx); err != nil {
		return driver.Connectionf("modbus %s: %v", a.name, err)
	}

	a.client = client
	a.unitID = unitID
	a.defs = defs
	a.logger.Info("modbus connected",
		zap.String("driver", a.name),
		zap.String("endpoint", params.Endpoint),
		zap.Uint8("unit_id", unitID))
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	unitID := a.unitID
	a.mu.Unlock()

	if client == nil || !client.Connected() {
		return driver.Connectionf("modbus %s: not connected", a.name)
	}

	// A one-register read doubles as a liveness probe.
	resp, err := client.Request(ctx, ReadRegistersRequest(FuncCodeReadHoldingRegisters, unitID, 0, 1))
	if err != nil {
		return driver.Transportf("modbus %s: health probe: %v", a.name, err)
	}
	_ = resp // exception responses still prove the endpoint is alive
	return nil
}

func (a *Adapter) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	a.mu.Lock()
	client := a.client
	unitID := a.unitID
	defs := a.defs
	a.mu.Unlock()

	if client == nil || !client.Connected() {
		return nil, driver.Connectionf("modbus %s: not connected", a.name)
	}

	results := make([]driver.ReadResult, 0, len(addresses))
	for _, addr := range addresses {
		value, err := a.readOne(ctx, client, unitID, defs, addr)
		if err != nil {
			if driver.IsConnectionLoss(err) {
				return nil, err
			}
			results = append(results, driver.ReadResult{Address: addr, Err: err})
			continue
		}
		results = append(results, driver.ReadResult{Address: addr, Value: value})
	}
	return results, nil
}

func (a *Adapter) readOne(ctx context.Context, client *Client, unitID uint8, defs map[string]driver.VariableDef, addr string) (any, error) {
	def, ok := defs[addr]
	if !ok {
		return nil, driver.Configurationf("modbus %s: undeclared address %s", a.name, addr)
	}
	loc, err := parseAddress(addr)
	if err != nil {
		return nil, driver.Configurationf("modbus %s: %v", a.name, err)
	}

	switch loc.area {
	case areaCoil, areaDiscrete:
		funcCode := uint8(FuncCodeReadCoils)
		if loc.area == areaDiscrete {
			funcCode = FuncCodeReadDiscreteInputs
		}
		resp, err := client.Request(ctx, ReadBitsRequest(funcCode, unitID, loc.offset, 1))
		if err != nil {
			return nil, driver.Transportf("modbus %s: read %s: %v", a.name, addr, err)
		}
		if resp.IsException() {
			return nil, driver.Protocolf("modbus %s: read %s: exception 0x%02X", a.name, addr, resp.ExceptionCode())
		}
		bits, err := resp.ParseBitResponse(1)
		if err != nil {
			return nil, driver.Protocolf("modbus %s: read %s: %v", a.name, addr, err)
		}
		return bits[0], nil

	default:
		count, err := registerCount(def.Type)
		if err != nil {
			return nil, driver.Configurationf("modbus %s: %s: %v", a.name, addr, err)
		}
		funcCode := uint8(FuncCodeReadHoldingRegisters)
		if loc.area == areaInput {
			funcCode = FuncCodeReadInputRegisters
		}
		resp, err := client.Request(ctx, ReadRegistersRequest(funcCode, unitID, loc.offset, uint16(count)))
		if err != nil {
			return nil, driver.Transportf("modbus %s: read %s: %v", a.name, addr, err)
		}
		if resp.IsException() {
			return nil, driver.Protocolf("modbus %s: read %s: exception 0x%02X", a.name, addr, resp.ExceptionCode())
		}
		regs, err := resp.ParseRegisterResponse()
		if err != nil {
			return nil, driver.Protocolf("modbus %s: read %s: %v", a.name, addr, err)
		}
		if len(regs) < count {
			return nil, driver.Protocolf("modbus %s: read %s: got %d registers, want %d", a.name, addr, len(regs), count)
		}
		return decodeRegisters(def.Type, regs[:count]), nil
	}
}

func (a *Adapter) WriteBatch(ctx context.Context, items []driver.WriteItem) ([]driver.WriteResult, error) {
	a.mu.Lock()
	client := a.client
	unitID := a.unitID
	defs := a.defs
	a.mu.Unlock()

	if client == nil || !client.Connected() {
		return nil, driver.Connectionf("modbus %s: not connected", a.name)
	}

	results := make([]driver.WriteResult, 0, len(items))
	for _, item := range items {
		err := a.writeOne(ctx, client, unitID, defs, item)
		if err != nil && driver.IsConnectionLoss(err) {
			return nil, err
		}
		results = append(results, driver.WriteResult{Address: item.Address, Err: err})
	}
	return results, nil
}

func (a *Adapter) writeOne(ctx context.Context, client *Client, unitID uint8, defs map[string]driver.VariableDef, item driver.WriteItem) error {
	def, ok := defs[item.Address]
	if !ok {
		return driver.Configurationf("modbus %s: undeclared address %s", a.name, item.Address)
	}
	loc, err := parseAddress(item.Address)
	if err != nil {
		return driver.Configurationf("modbus %s: %v", a.name, err)
	}

	var req *Frame
	switch loc.area {
	case areaCoil:
		on, ok := item.Value.(bool)
		if !ok {
			return driver.Configurationf("modbus %s: write %s: expected bool", a.name, item.Address)
		}
		req = WriteSingleCoilRequest(unitID, loc.offset, on)

	case areaDiscrete, areaInput:
		return driver.Configurationf("modbus %s: address %s is read-only", a.name, item.Address)

	default:
		regs, err := encodeRegisters(def.Type, item.Value)
		if err != nil {
			return driver.Configurationf("modbus %s: write %s: %v", a.name, item.Address, err)
		}
		if len(regs) == 1 {
			req = WriteSingleRegisterRequest(unitID, loc.offset, regs[0])
		} else {
			req = WriteMultipleRegistersRequest(unitID, loc.offset, regs)
		}
	}

	resp, err := client.Request(ctx, req)
	if err != nil {
		return driver.Transportf("modbus %s: write %s: %v", a.name, item.Address, err)
	}
	if resp.IsException() {
		return driver.Protocolf("modbus %s: write %s: exception 0x%02X", a.name, item.Address, resp.ExceptionCode())
	}
	return nil
}

func decodeRegisters(dt types.DataType, regs []uint16) any {
	switch dt {
	case types.DataTypeBool:
		return regs[0] != 0
	case types.DataTypeInt16:
		return int16(regs[0])
	case types.DataTypeUint16:
		return regs[0]
	case types.DataTypeInt32:
		return int32(uint32(regs[0])<<16 | uint32(regs[1]))
	case types.DataTypeUint32:
		return uint32(regs[0])<<16 | uint32(regs[1])
	case types.DataTypeFloat32:
		return math.Float32frombits(uint32(regs[0])<<16 | uint32(regs[1]))
	case types.DataTypeInt64:
		return int64(uint64(regs[0])<<48 | uint64(regs[1])<<32 | uint64(regs[2])<<16 | uint64(regs[3]))
	case types.DataTypeFloat64:
		return math.Float64frombits(uint64(regs[0])<<48 | uint64(regs[1])<<32 | uint64(regs[2])<<16 | uint64(regs[3]))
	default:
		return regs[0]
	}
}

func encodeRegisters(dt types.DataType, value any) ([]uint16, error) {
	coerced, err := dt.Coerce(value)
	if err != nil {
		return nil, err
	}

	switch dt {
	case types.DataTypeBool:
		if coerced.(bool) {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	case types.DataTypeInt16:
		return []uint16{uint16(coerced.(int16))}, nil
	case types.DataTypeUint16:
		return []uint16{coerced.(uint16)}, nil
	case types.DataTypeInt32:
		bits := uint32(coerced.(int32))
		return []uint16{uint16(bits >> 16), uint16(bits)}, nil
	case types.DataTypeUint32:
		bits := coerced.(uint32)
		return []uint16{uint16(bits >> 16), uint16(bits)}, nil
	case types.DataTypeFloat32:
		bits := math.Float32bits(coerced.(float32))
		return []uint16{uint16(bits >> 16), uint16(bits)}, nil
	case types.DataTypeInt64:
		bits := uint64(coerced.(int64))
		return []uint16{uint16(bits >> 48), uint16(bits >> 32), uint16(bits >> 16), uint16(bits)}, nil
	case types.DataTypeFloat64:
		bits := math.Float64bits(coerced.(float64))
		return []uint16{uint16(bits >> 48), uint16(bits >> 32), uint16(bits >> 16), uint16(bits)}, nil
	default:
		return nil, fmt.Errorf("data type %s not representable in registers", dt)
	}
}
