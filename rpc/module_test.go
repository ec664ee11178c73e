package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, cc *ConnectionContext, params json.RawMessage) (interface{}, error) {
	return "ok", nil
}

func TestRegisterMethodRejectsEmptyName(t *testing.T) {
	m := NewRpcModule()
	err := m.RegisterMethod("", echoHandler)
	require.Error(t, err)
	var e *ErrInvalidName
	require.ErrorAs(t, err, &e)
}

func TestRegisterMethodRejectsDuplicate(t *testing.T) {
	m := NewRpcModule()
	require.NoError(t, m.RegisterMethod("foo_bar", echoHandler))
	err := m.RegisterMethod("foo_bar", echoHandler)
	require.Error(t, err)
	var e *ErrAlreadyRegistered
	require.ErrorAs(t, err, &e)
}

func TestRegisterSubscriptionRequiresDistinctNames(t *testing.T) {
	m := NewRpcModule()
	handler := func(ctx context.Context, cc *ConnectionContext, params json.RawMessage, sink *PendingSink) error {
		return sink.Reject(ErrSubscriptionNotFound)
	}
	err := m.RegisterSubscription("foo_subscribe", "foo_subscribe", "foo_unsubscribe", handler)
	require.Error(t, err)
}

func TestRegisterSubscriptionCreatesOpenAndCloseEntries(t *testing.T) {
	m := NewRpcModule()
	handler := func(ctx context.Context, cc *ConnectionContext, params json.RawMessage, sink *PendingSink) error {
		return sink.Reject(ErrSubscriptionNotFound)
	}
	require.NoError(t, m.RegisterSubscription("foo_subscribe", "foo_subscription", "foo_unsubscribe", handler))

	open := m.resolve("foo_subscribe")
	require.NotNil(t, open)
	assert.Equal(t, kindSubscriptionOpen, open.kind)

	closeEntry := m.resolve("foo_unsubscribe")
	require.NotNil(t, closeEntry)
	assert.Equal(t, kindSubscriptionClose, closeEntry.kind)
	assert.Equal(t, "foo_subscribe", closeEntry.openName)
	assert.Equal(t, "foo_subscription", closeEntry.notifName)
}

func TestMergeIsAtomicOnCollision(t *testing.T) {
	a := NewRpcModule()
	require.NoError(t, a.RegisterMethod("x_one", echoHandler))

	b := NewRpcModule()
	require.NoError(t, b.RegisterMethod("x_one", echoHandler))
	require.NoError(t, b.RegisterMethod("x_two", echoHandler))

	err := a.Merge(b)
	require.Error(t, err)
	assert.Nil(t, a.resolve("x_two"), "merge must not leave partial state on collision")
}

func TestModuleBoundRejectsFurtherRegistration(t *testing.T) {
	m := NewRpcModule()
	m.bind()
	err := m.RegisterMethod("x_one", echoHandler)
	require.Error(t, err)
}
