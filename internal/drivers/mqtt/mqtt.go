// Package mqtt implements the MQTT endpoint adapter. Variable addresses are
// topic names. Readable variables are subscribed once at connect time and the
// last payload per topic is cached; ReadBatch serves from that cache, so a
// topic that has not published yet reads as an error until the first message
// arrives. Writes publish the coerced value as a plain text payload.
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	subscribeQoS   = 1
	publishQoS     = 1
)

type Adapter struct {
	name   string
	logger *zap.Logger

	mu     sync.RWMutex
	client pahomqtt.Client
	defs   map[string]driver.VariableDef
	cache  map[string]any
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

	if a.client != nil && a.client.IsConnectionOpen() {
		return nil
	}

	if params.Endpoint == "" {
		return driver.Configurationf("mqtt %s: endpoint is required", a.name)
	}

	defs := make(map[string]driver.VariableDef, len(params.Variables))
	for _, v := range params.Variables {
		defs[v.Address] = v
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(params.Endpoint).
		SetClientID(params.Option("client_id", "smtk-"+a.name)).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false). // reconnects are owned by the lifecycle supervisor
		SetCleanSession(true)
	if params.Username != "" {
		opts.SetUsername(params.Username)
		opts.SetPassword(params.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return driver.Timeoutf("mqtt %s: connect to %s timed out", a.name, params.Endpoint)
	}
	if err := token.Error(); err != nil {
		return driver.Connectionf("mqtt %s: connect to %s: %v", a.name, params.Endpoint, err)
	}

	for _, v := range params.Variables {
		if !v.Mode.Readable() {
			continue
		}
		topic := v.Address
		sub := client.Subscribe(topic, subscribeQoS, a.onMessage)
		if !sub.WaitTimeout(connectTimeout) || sub.Error() != nil {
			client.Disconnect(250)
			return driver.Connectionf("mqtt %s: subscribe %s: %v", a.name, topic, sub.Error())
		}
	}

	a.client = client
	a.defs = defs
	a.cache = make(map[string]any)
	a.logger.Info("mqtt connected",
		zap.String("driver", a.name),
		zap.String("endpoint", params.Endpoint))
	return nil
}

// onMessage decodes an inbound payload per the declared type and caches it.
func (a *Adapter) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	def, ok := a.defs[msg.Topic()]
	if !ok {
		return
	}
	value, err := decodePayload(def.Type, msg.Payload())
	if err != nil {
		a.logger.Warn("mqtt payload rejected",
			zap.String("driver", a.name),
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}
	a.cache[msg.Topic()] = value
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil
	}
	a.client.Disconnect(250)
	a.client = nil
	a.cache = make(map[string]any)
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.client == nil || !a.client.IsConnectionOpen() {
		return driver.Connectionf("mqtt %s: connection lost", a.name)
	}
	return nil
}

func (a *Adapter) ReadBatch(ctx context.Context, addresses []string) ([]driver.ReadResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.client == nil || !a.client.IsConnectionOpen() {
		return nil, driver.Connectionf("mqtt %s: connection lost", a.name)
	}

	results := make([]driver.ReadResult, 0, len(addresses))
	for _, addr := range addresses {
		value, ok := a.cache[addr]
		if !ok {
			results = append(results, driver.ReadResult{
				Address: addr,
				Err:     driver.Protocolf("mqtt %s: no message received on %s yet", a.name, addr),
			})
			continue
		}
		results = append(results, driver.ReadResult{Address: addr, Value: value})
	}
	return results, nil
}

func (a *Adapter) WriteBatch(ctx context.Context, items []driver.WriteItem) ([]driver.WriteResult, error) {
	a.mu.RLock()
	client := a.client
	defs := a.defs
	a.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		return nil, driver.Connectionf("mqtt %s: connection lost", a.name)
	}

	results := make([]driver.WriteResult, 0, len(items))
	for _, item := range items {
		results = append(results, driver.WriteResult{
			Address: item.Address,
			Err:     a.publish(client, defs, item),
		})
	}
	return results, nil
}

func (a *Adapter) publish(client pahomqtt.Client, defs map[string]driver.VariableDef, item driver.WriteItem) error {
	def, ok := defs[item.Address]
	if !ok {
		return driver.Configurationf("mqtt %s: undeclared topic %s", a.name, item.Address)
	}
	value, err := def.Type.Coerce(item.Value)
	if err != nil {
		return driver.Configurationf("mqtt %s: write %s: %v", a.name, item.Address, err)
	}

	token := client.Publish(item.Address, publishQoS, false, encodePayload(value))
	if !token.WaitTimeout(publishTimeout) {
		return driver.Timeoutf("mqtt %s: publish %s timed out", a.name, item.Address)
	}
	if err := token.Error(); err != nil {
		return driver.Transportf("mqtt %s: publish %s: %v", a.name, item.Address, err)
	}
	return nil
}

func decodePayload(dt types.DataType, payload []byte) (any, error) {
	switch dt {
	case types.DataTypeString:
		return string(payload), nil
	case types.DataTypeBytes:
		buf := make([]byte, len(payload))
		copy(buf, payload)
		return buf, nil
	case types.DataTypeBool:
		b, err := strconv.ParseBool(string(payload))
		if err != nil {
			return nil, fmt.Errorf("parse bool %q: %w", payload, err)
		}
		return b, nil
	default:
		f, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", payload, err)
		}
		return dt.Coerce(f)
	}
}

func encodePayload(value any) []byte {
	switch v := value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
