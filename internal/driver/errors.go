package driver

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by the core and all adapters.
//
// Connection, transport and timeout errors are handled entirely inside the
// supervisor state machine and never reach the engine as errors; they are
// observable through variable quality and the event stream. Configuration
// errors are the only class surfaced synchronously, at Declare/registration
// time. Protocol errors are per-item and affect only the variable they
// belong to.
var (
	ErrConnection    = errors.New("connection error")
	ErrTransport     = errors.New("transport error")
	ErrProtocol      = errors.New("protocol error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout error")
)

// Connectionf wraps a connect failure.
func Connectionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConnection, fmt.Sprintf(format, args...))
}

// Transportf wraps a mid-cycle transport failure.
func Transportf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}

// Protocolf wraps a per-item endpoint rejection.
func Protocolf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Configurationf wraps an invalid registration.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Timeoutf wraps an exceeded cycle budget.
func Timeoutf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// IsConnectionLoss reports whether an error must fault the driver.
// Timeouts escalate to transport failures, and a context deadline hit inside
// an adapter counts the same way.
func IsConnectionLoss(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
