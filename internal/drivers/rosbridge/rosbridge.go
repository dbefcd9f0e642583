// Package rosbridge implements the ROS endpoint adapter speaking the
// rosbridge v2 JSON protocol over a websocket. Variable addresses are ROS
// topic names; values map to std_msgs-style messages with a single "data"
// field. Readable topics are subscribed at connect time and the last message
// per topic is cached; writable topics are advertised and writes publish.
package rosbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// operation is one rosbridge protocol message.
type operation struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic,omitempty"`
	Type  string          `json:"type,omitempty"`
	Msg   json.RawMessage `json:"msg,omitempty"`
}

type dataMessage struct {
	Data any `json:"data"`
}

// messageType maps a variable type to the std_msgs message advertised for it.
func messageType(dt types.DataType) string {
	switch dt {
	case types.DataTypeBool:
		return "std_msgs/Bool"
	case types.DataTypeFloat32, types.DataTypeFloat64:
		return "std_msgs/Float64"
	case types.DataTypeString:
		return "std_msgs/String"
	default:
		return "std_msgs/Int64"
	}
}

type Adapter struct {
	name   string
	logger *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	defs      map[string]driver.VariableDef
	cache     map[string]any
	done      chan struct{}
}

func New(name string, logger *zap.Logger) driver.Driver {
	return &Adapter{
		name:   name,
		logger: logger,
		defs:   make(map[string]driver.VariableDef),
		cache:  make(map[string]any),
	}
}

func (a *Adapter) Connect(ctx context.Context, params driver.Params) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	if params.Endpoint == "" {
		return driver.Configurationf("rosbridge %s: endpoint is required", a.name)
	}

	defs := make(map[string]driver.VariableDef, len(params.Variables))
	for _, v := range params.Variables {
		defs[v.Address] = v
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, params.Endpoint, nil)
	if err != nil {
		return driver.Connectionf("rosbridge %s: dial %s: %v", a.name, params.Endpoint, err)
	}

	for _, v := range params.Variables {
		var op operation
		if v.Mode.Readable() {
			op = operation{Op: "subscribe", Topic: v.Address, Type: messageType(v.Type)}
		} else {
			op = operation{Op: "advertise", Topic: v.Address, Type: messageType(v.Type)}
		}
		if err := writeOp(conn, op); err != nil {
			conn.Close()
			return driver.Connectionf("rosbridge %s: %s %s: %v", a.name, op.Op, v.Address, err)
		}
		if v.Mode == types.ModeBoth {
			if err := writeOp(conn, operation{Op: "advertise", Topic: v.Address, Type: messageType(v.Type)}); err != nil {
				conn.Close()
				return driver.Connectionf("rosbridge %s: advertise %s: %v", a.name, v.Address, err)
			}
		}
	}

	a.conn = conn
	a.connected = true
	a.defs = defs
	a.cache = make(map[string]any)
	a.done = make(chan struct{})
	go a.readPump(conn, a.done)

	a.logger.Info("rosbridge connected",
		zap.String("driver", a.name),
		zap.String("endpoint", params.Endpoint))
	return nil
}

func writeOp(conn *websocket.Conn, op operation) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(op)
}

// readPump drains inbound publishes into the topic cache until the
// connection dies or Disconnect closes it.
func (a *Adapter) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var op operation
		if err := conn.ReadJSON(&op); err != nil {
			a.mu.Lock()
			if a.conn == conn {
				a.connected = false
			}
			a.mu.Unlock()
			return
		}
		if op.Op != "publish" || op.Topic == "" {
			continue
		}

		var msg dataMessage
		if err := json.Unmarshal(op.Msg, &msg); err != nil {
			continue
		}

		a.mu.Lock()
		def, ok := a.defs[op.Topic]
		if ok {
			if value, err := def.Type.Coerce(msg.Data); err == nil {
				a.cache[op.Topic] = value
			}
		}
		a.mu.Unlock()
	}
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	done := a.done
	a.conn = nil
	a.connected = false
	a.cache = make(map[string]any)
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return err
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.connected {
		return driver.Connectionf("rosbridge %s: connection lost", a.name)
	}
	return nil
}

func (a *Adapter) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.connected {
		return nil, driver.Connectionf("rosbridge %s: connection lost", a.name)
	}

	results := make([]driver.ReadResult, 0, len(addresses))
	for _, addr := range addresses {
		value, ok := a.cache[addr]
		if !ok {
			results = append(results, driver.ReadResult{
				Address: addr,
				Err:     driver.Protocolf("rosbridge %s: no message received on %s yet", a.name, addr),
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
		return nil, driver.Connectionf("rosbridge %s: connection lost", a.name)
	}

	results := make([]driver.WriteResult, 0, len(items))
	for _, item := range items {
		def, ok := a.defs[item.Address]
		if !ok {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("rosbridge %s: undeclared topic %s", a.name, item.Address),
			})
			continue
		}
		value, err := def.Type.Coerce(item.Value)
		if err != nil {
			results = append(results, driver.WriteResult{
				Address: item.Address,
				Err:     driver.Configurationf("rosbridge %s: write %s: %v", a.name, item.Address, err),
			})
			continue
		}

		msg, _ := json.Marshal(dataMessage{Data: value})
		if err := writeOp(a.conn, operation{Op: "publish", Topic: item.Address, Msg: msg}); err != nil {
			a.connected = false
			return nil, driver.Transportf("rosbridge %s: publish %s: %v", a.name, item.Address, err)
		}
		results = append(results, driver.WriteResult{Address: item.Address})
	}
	return results, nil
}
