// Package s7 implements the Siemens S7 endpoint adapter on top of the gos7
// ISO-on-TCP client. Variable addresses select a memory area and byte offset:
//
//	db5:10     word-or-larger value at byte 10 of data block 5
//	db5:10.3   bit 3 of byte 10 of data block 5 (bool only)
//	m:20       marker memory at byte 20
//	m:20.0     marker bit
//
// Multi-byte values use the PLC's native big-endian layout.
package s7

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robinson/gos7"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

type location struct {
	dbNumber int // 0 means marker memory
	isMarker bool
	offset   int
	bit      int // -1 when the address has no bit index
}

func parseAddress(addr string) (location, error) {
	prefix, rest, ok := strings.Cut(strings.ToLower(addr), ":")
	if !ok {
		return location{}, fmt.Errorf("address %q: expected <area>:<offset>", addr)
	}

	loc := location{bit: -1}
	switch {
	case prefix == "m":
		loc.isMarker = true
	case strings.HasPrefix(prefix, "db"):
		db, err := strconv.Atoi(prefix[2:])
		if err != nil || db < 1 {
			return location{}, fmt.Errorf("address %q: invalid data block %q", addr, prefix)
		}
		loc.dbNumber = db
	default:
		return location{}, fmt.Errorf("address %q: unknown area %q", addr, prefix)
	}

	bytePart, bitPart, hasBit := strings.Cut(rest, ".")
	offset, err := strconv.Atoi(bytePart)
	if err != nil || offset < 0 {
		return location{}, fmt.Errorf("address %q: invalid byte offset", addr)
	}
	loc.offset = offset

	if hasBit {
		bit, err := strconv.Atoi(bitPart)
		if err != nil || bit < 0 || bit > 7 {
			return location{}, fmt.Errorf("address %q: bit index must be 0-7", addr)
		}
		loc.bit = bit
	}
	return loc, nil
}

func byteSize(dt types.DataType) (int, error) {
	switch dt {
	case types.DataTypeBool:
		return 1, nil
	case types.DataTypeInt16, types.DataTypeUint16:
		return 2, nil
	case types.DataTypeInt32, types.DataTypeUint32, types.DataTypeFloat32:
		return 4, nil
	case types.DataTypeInt64, types.DataTypeFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("data type %s not representable in PLC memory", dt)
	}
}

type Adapter struct {
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	handler *gos7.TCPClientHandler
	client  gos7.Client
	defs    map[string]driver.VariableDef
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

	if a.client != nil {
		return nil
	}

	if params.Endpoint == "" {
		return driver.Configurationf("s7 %s: endpoint is required", a.name)
	}

	rack, err := strconv.Atoi(params.Option("rack", "0"))
	if err != nil {
		return driver.Configurationf("s7 %s: invalid rack option", a.name)
	}
	slot, err := strconv.Atoi(params.Option("slot", "1"))
	if err != nil {
		return driver.Configurationf("s7 %s: invalid slot option", a.name)
	}

	defs := make(map[string]driver.VariableDef, len(params.Variables))
	for _, v := range params.Variables {
		loc, err := parseAddress(v.Address)
		if err != nil {
			return driver.Configurationf("s7 %s: %v", a.name, err)
		}
		if (v.Type == types.DataTypeBool) != (loc.bit >= 0) {
			return driver.Configurationf("s7 %s: address %s: bit index and bool type must go together", a.name, v.Address)
		}
		if _, err := byteSize(v.Type); err != nil {
			return driver.Configurationf("s7 %s: address %s: %v", a.name, v.Address, err)
		}
		defs[v.Address] = v
	}

	handler := gos7.NewTCPClientHandler(params.Endpoint, rack, slot)
	handler.Timeout = params.Timeout
	if handler.Timeout <= 0 {
		handler.Timeout = 5 * time.Second
	}

	if err := handler.Connect(); err != nil {
		return driver.Connectionf("s7 %s: connect %s rack %d slot %d: %v", a.name, params.Endpoint, rack, slot, err)
	}

	a.handler = handler
	a.client = gos7.NewClient(handler)
	a.defs = defs
	a.logger.Info("s7 connected",
		zap.String("driver", a.name),
		zap.String("endpoint", params.Endpoint),
		zap.Int("rack", rack),
		zap.Int("slot", slot))
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handler == nil {
		return nil
	}
	err := a.handler.Close()
	a.handler = nil
	a.client = nil
	return err
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return driver.Connectionf("s7 %s: not connected", a.name)
	}

	// Reading one marker byte exercises the full request path.
	buf := make([]byte, 1)
	if err := a.client.AGReadMB(0, 1, buf); err != nil {
		return driver.Transportf("s7 %s: health probe: %v", a.name, err)
	}
	return nil
}

func (a *Adapter) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil, driver.Connectionf("s7 %s: not connected", a.name)
	}

	results := make([]driver.ReadResult, 0, len(addresses))
	for _, addr := range addresses {
		value, err := a.readOne(addr)
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

func (a *Adapter) readOne(addr string) (any, error) {
	def, ok := a.defs[addr]
	if !ok {
		return nil, driver.Configurationf("s7 %s: undeclared address %s", a.name, addr)
	}
	loc, _ := parseAddress(addr)
	size, _ := byteSize(def.Type)

	buf := make([]byte, size)
	if err := a.readArea(loc, size, buf); err != nil {
		return nil, driver.Transportf("s7 %s: read %s: %v", a.name, addr, err)
	}

	if def.Type == types.DataTypeBool {
		return buf[0]&(1<<loc.bit) != 0, nil
	}
	return decodeBytes(def.Type, buf), nil
}

func (a *Adapter) WriteBatch(ctx context.Context, items []driver.WriteItem) ([]driver.WriteResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil, driver.Connectionf("s7 %s: not connected", a.name)
	}

	results := make([]driver.WriteResult, 0, len(items))
	for _, item := range items {
		err := a.writeOne(item)
		if err != nil && driver.IsConnectionLoss(err) {
			return nil, err
		}
		results = append(results, driver.WriteResult{Address: item.Address, Err: err})
	}
	return results, nil
}

func (a *Adapter) writeOne(item driver.WriteItem) error {
	def, ok := a.defs[item.Address]
	if !ok {
		return driver.Configurationf("s7 %s: undeclared address %s", a.name, item.Address)
	}
	loc, _ := parseAddress(item.Address)

	value, err := def.Type.Coerce(item.Value)
	if err != nil {
		return driver.Configurationf("s7 %s: write %s: %v", a.name, item.Address, err)
	}

	if def.Type == types.DataTypeBool {
		// Bit writes are read-modify-write on the containing byte.
		buf := make([]byte, 1)
		if err := a.readArea(loc, 1, buf); err != nil {
			return driver.Transportf("s7 %s: write %s: %v", a.name, item.Address, err)
		}
		if value.(bool) {
			buf[0] |= 1 << loc.bit
		} else {
			buf[0] &^= 1 << loc.bit
		}
		if err := a.writeArea(loc, 1, buf); err != nil {
			return driver.Transportf("s7 %s: write %s: %v", a.name, item.Address, err)
		}
		return nil
	}

	buf := encodeBytes(def.Type, value)
	if err := a.writeArea(loc, len(buf), buf); err != nil {
		return driver.Transportf("s7 %s: write %s: %v", a.name, item.Address, err)
	}
	return nil
}

func (a *Adapter) readArea(loc location, size int, buf []byte) error {
	if loc.isMarker {
		return a.client.AGReadMB(loc.offset, size, buf)
	}
	return a.client.AGReadDB(loc.dbNumber, loc.offset, size, buf)
}

func (a *Adapter) writeArea(loc location, size int, buf []byte) error {
	if loc.isMarker {
		return a.client.AGWriteMB(loc.offset, size, buf)
	}
	return a.client.AGWriteDB(loc.dbNumber, loc.offset, size, buf)
}

func decodeBytes(dt types.DataType, buf []byte) any {
	switch dt {
	case types.DataTypeInt16:
		return int16(binary.BigEndian.Uint16(buf))
	case types.DataTypeUint16:
		return binary.BigEndian.Uint16(buf)
	case types.DataTypeInt32:
		return int32(binary.BigEndian.Uint32(buf))
	case types.DataTypeUint32:
		return binary.BigEndian.Uint32(buf)
	case types.DataTypeInt64:
		return int64(binary.BigEndian.Uint64(buf))
	case types.DataTypeFloat32:
		return math.Float32frombits(binary.BigEndian.Uint32(buf))
	case types.DataTypeFloat64:
		return math.Float64frombits(binary.BigEndian.Uint64(buf))
	default:
		return buf
	}
}

func encodeBytes(dt types.DataType, value any) []byte {
	switch dt {
	case types.DataTypeInt16:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(value.(int16)))
		return buf
	case types.DataTypeUint16:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, value.(uint16))
		return buf
	case types.DataTypeInt32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(value.(int32)))
		return buf
	case types.DataTypeUint32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, value.(uint32))
		return buf
	case types.DataTypeInt64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(value.(int64)))
		return buf
	case types.DataTypeFloat32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(value.(float32)))
		return buf
	case types.DataTypeFloat64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(value.(float64)))
		return buf
	default:
		return nil
	}
}
