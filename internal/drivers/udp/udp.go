// Package udp implements a generic JSON-over-UDP endpoint adapter. The peer
// exchanges flat JSON objects; a "poll" key carrying a timestamp doubles as
// the liveness handshake, every other key is a variable address. The connect
// handshake sends a poll and waits for one echo; after that the adapter keeps
// sending a poll at the configured interval and treats a missing echo for two
// intervals as connection loss.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
)

const (
	defaultPollInterval = time.Second
	defaultMaxDatagram  = 1024
)

type Adapter struct {
	name   string
	logger *zap.Logger

	mu           sync.Mutex
	conn         *net.UDPConn
	connected    bool
	pollInterval time.Duration
	maxDatagram  int
	defs         map[string]driver.VariableDef
	latest       map[string]any // last value seen per address
	lastPollSent time.Time
	lastPollRecv time.Time
}

func New(name string, logger *zap.Logger) driver.Driver {
	return &Adapter{
		name:   name,
		logger: logger,
		defs:   make(map[string]driver.VariableDef),
		latest: make(map[string]any),
	}
}

func (a *Adapter) Connect(ctx context.Context, params driver.Params) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	if params.Endpoint == "" {
		return driver.Configurationf("udp %s: endpoint is required", a.name)
	}

	pollInterval := defaultPollInterval
	if raw := params.Option("poll_interval", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return driver.Configurationf("udp %s: invalid poll_interval %q", a.name, raw)
		}
		pollInterval = d
	}
	maxDatagram := defaultMaxDatagram
	if raw := params.Option("max_datagram", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 {
			return driver.Configurationf("udp %s: invalid max_datagram %q", a.name, raw)
		}
		maxDatagram = n
	}

	addr, err := net.ResolveUDPAddr("udp", params.Endpoint)
	if err != nil {
		return driver.Configurationf("udp %s: resolve %s: %v", a.name, params.Endpoint, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return driver.Connectionf("udp %s: dial %s: %v", a.name, params.Endpoint, err)
	}

	// Handshake: send a poll, expect one echoed back.
	now := time.Now()
	if err := sendJSON(conn, map[string]any{"poll": now.Unix()}); err != nil {
		conn.Close()
		return driver.Connectionf("udp %s: handshake send: %v", a.name, err)
	}

	deadline := now.Add(2 * pollInterval)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return driver.Connectionf("udp %s: handshake: no poll echo from %s: %v", a.name, params.Endpoint, err)
	}
	var reply map[string]json.RawMessage
	if err := json.Unmarshal(buf[:n], &reply); err != nil {
		conn.Close()
		return driver.Protocolf("udp %s: handshake: malformed reply: %v", a.name, err)
	}
	if _, ok := reply["poll"]; !ok {
		conn.Close()
		return driver.Protocolf("udp %s: handshake: reply carries no poll key", a.name)
	}

	defs := make(map[string]driver.VariableDef, len(params.Variables))
	for _, v := range params.Variables {
		if v.Address == "poll" {
			conn.Close()
			return driver.Configurationf("udp %s: address %q is reserved", a.name, v.Address)
		}
		defs[v.Address] = v
	}

	a.conn = conn
	a.connected = true
	a.pollInterval = pollInterval
	a.maxDatagram = maxDatagram
	a.defs = defs
	a.latest = make(map[string]any)
	a.lastPollSent = now
	a.lastPollRecv = now

	a.logger.Info("udp connected",
		zap.String("driver", a.name),
		zap.String("endpoint", params.Endpoint),
		zap.Duration("poll_interval", pollInterval))
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}
	a.connected = false

	err := a.conn.Close()
	a.conn = nil
	a.latest = make(map[string]any)
	return err
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return driver.Connectionf("udp %s: not connected", a.name)
	}
	if time.Since(a.lastPollRecv) > 2*a.pollInterval {
		return driver.Transportf("udp %s: no poll echo for %s", a.name, time.Since(a.lastPollRecv).Round(time.Millisecond))
	}
	return nil
}

// drain consumes every datagram currently queued on the socket and folds the
// decoded key/value pairs into the latest-value map.
func (a *Adapter) drain() {
	buf := make([]byte, a.maxDatagram)
	for {
		a.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := a.conn.Read(buf)
		if err != nil {
			return
		}

		var data map[string]any
		if err := json.Unmarshal(buf[:n], &data); err != nil {
			continue
		}
		if _, ok := data["poll"]; ok {
			a.lastPollRecv = time.Now()
			delete(data, "poll")
		}
		for key, raw := range data {
			def, ok := a.defs[key]
			if !ok {
				continue
			}
			value, err := def.Type.Coerce(raw)
			if err != nil {
				continue
			}
			a.latest[key] = value
		}
	}
}

func (a *Adapter) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, driver.Connectionf("udp %s: not connected", a.name)
	}

	a.drain()

	if time.Since(a.lastPollRecv) > 2*a.pollInterval {
		return nil, driver.Transportf("udp %s: poll echo overdue, peer presumed gone", a.name)
	}

	results := make([]driver.ReadResult, 0, len(addresses))
	for _, addr := range addresses {
		value, ok := a.latest[addr]
		if !ok {
			results = append(results, driver.ReadResult{
				Address: addr,
				Err:     driver.Protocolf("udp %s: no value received for %s yet", a.name, addr),
			})
			continue
		}
		results = append(results, driver.ReadResult{Address: addr, Value: value})
	}
	return results, nil
}

func (a *Adapter) WriteBatch(ctx context.Context, items []driver.WriteItem) ([]driver.WriteResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, driver.Connectionf("udp %s: not connected", a.name)
	}

	payload := make(map[string]any, len(items)+1)
	if time.Since(a.lastPollSent) >= a.pollInterval {
		payload["poll"] = time.Now().Unix()
		a.lastPollSent = time.Now()
	}

	results := make([]driver.WriteResult, 0, len(items))
	for _, item := range items {
		def, ok := a.defs[item.Address]
		if !ok {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("udp %s: undeclared address %s", a.name, item.Address),
			})
			continue
		}
		value, err := def.Type.Coerce(item.Value)
		if err != nil {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("udp %s: write %s: %v", a.name, item.Address, err),
			})
			continue
		}
		payload[item.Address] = value
		results = append(results, driver.WriteResult{Address: item.Address})
	}

	if len(payload) > 0 {
		if err := sendJSON(a.conn, payload); err != nil {
			return nil, driver.Transportf("udp %s: send: %v", a.name, err)
		}
	}
	return results, nil
}

func sendJSON(conn *net.UDPConn, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = conn.Write(data)
	return err
}
