package websocket

import (
	"time"

	"github.com/Simumatik/simumatik-driver-manager/internal/events"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeVariableUpdate MessageType = "variable_update"
	MessageTypeDriverState    MessageType = "driver_state"
	MessageTypeWriteFailure   MessageType = "write_failure"
	MessageTypeStatus         MessageType = "status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// VariableUpdateData carries one committed value change or quality transition
type VariableUpdateData struct {
	Variable string      `json:"variable"`
	Driver   string      `json:"driver"`
	Value    interface{} `json:"value"`
	Quality  string      `json:"quality"`
}

// DriverStateData carries one lifecycle transition
type DriverStateData struct {
	Driver string `json:"driver"`
	State  string `json:"state"`
}

// WriteFailureData carries one dropped pending write
type WriteFailureData struct {
	Variable string `json:"variable"`
	Driver   string `json:"driver"`
	Error    string `json:"error"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// FromEvent translates a bus event into its wire message.
func FromEvent(evt events.Event) Message {
	msg := Message{Timestamp: evt.Timestamp}
	switch evt.Type {
	case events.TypeVariableUpdate:
		msg.Type = MessageTypeVariableUpdate
		msg.Data = VariableUpdateData{Variable: evt.Variable, Driver: evt.Driver, Value: evt.Value, Quality: evt.Quality}
	case events.TypeDriverState:
		msg.Type = MessageTypeDriverState
		msg.Data = DriverStateData{Driver: evt.Driver, State: evt.State}
	case events.TypeWriteFailure:
		msg.Type = MessageTypeWriteFailure
		msg.Data = WriteFailureData{Variable: evt.Variable, Driver: evt.Driver, Error: evt.Error}
	}
	return msg
}
