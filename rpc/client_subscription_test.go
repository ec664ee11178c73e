package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(overflow OverflowPolicy, depth int) *ClientSubscription {
	c := &Client{cfg: &clientConfig{maxNotifsPerSubscription: depth, overflow: overflow}}
	return newClientSubscription(c, "x_subscription", "x_unsubscribe")
}

func TestClientSubscriptionDropOldestOnOverflow(t *testing.T) {
	sub := newTestSubscription(DropOldest, 2)
	sub.deliver(json.RawMessage(`1`))
	sub.deliver(json.RawMessage(`2`))
	sub.deliver(json.RawMessage(`3`)) // drops "1"

	ctx := context.Background()
	v1, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `2`, string(v1))

	v2, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `3`, string(v2))
}

func TestClientSubscriptionErrorOnNextRecvOverflow(t *testing.T) {
	sub := newTestSubscription(ErrorOnNextRecv, 1)
	sub.deliver(json.RawMessage(`1`))
	sub.deliver(json.RawMessage(`2`)) // queue full, sets overflow flag instead of replacing

	ctx := context.Background()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionQueueFull)

	v, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, `1`, string(v))
}

func TestClientSubscriptionNextAfterCleanTerminate(t *testing.T) {
	sub := newTestSubscription(DropOldest, 4)
	sub.terminate(nil)
	v, err := sub.Next(context.Background())
	assert.Nil(t, v)
	assert.NoError(t, err)
}

func TestClientSubscriptionDrainsBeforeReportingTerminate(t *testing.T) {
	sub := newTestSubscription(DropOldest, 4)
	sub.deliver(json.RawMessage(`1`))
	sub.terminate(ErrRestartNeeded)

	v, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `1`, string(v))

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrRestartNeeded)
}
