package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	assert.ErrorIs(t, Connectionf("dial refused"), ErrConnection)
	assert.ErrorIs(t, Transportf("broken pipe"), ErrTransport)
	assert.ErrorIs(t, Protocolf("exception 0x02"), ErrProtocol)
	assert.ErrorIs(t, Configurationf("bad address"), ErrConfiguration)
	assert.ErrorIs(t, Timeoutf("deadline"), ErrTimeout)
}

func TestIsConnectionLoss(t *testing.T) {
	assert.True(t, IsConnectionLoss(Connectionf("gone")))
	assert.True(t, IsConnectionLoss(Transportf("gone")))
	assert.True(t, IsConnectionLoss(Timeoutf("gone")))
	assert.True(t, IsConnectionLoss(context.DeadlineExceeded))
	assert.True(t, IsConnectionLoss(fmt.Errorf("wrapped: %w", Transportf("gone"))))

	assert.False(t, IsConnectionLoss(nil))
	assert.False(t, IsConnectionLoss(Protocolf("exception")))
	assert.False(t, IsConnectionLoss(Configurationf("bad entry")))
	assert.False(t, IsConnectionLoss(errors.New("plain")))
}
