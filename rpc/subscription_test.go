package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkAcceptSendsSuccessResponse(t *testing.T) {
	out := newOutboundChannel(4)
	cc := newConnectionContext(1, "test", 0)
	sink := newPendingSink(NumberID(9), NumberID(1), "x_subscription", cc, out)

	require.NoError(t, sink.Accept())
	msg := <-out.ch
	assert.Nil(t, msg.Error)
	assert.Equal(t, `9`, string(msg.Result))

	_, ok := cc.lookupSink(NumberID(9))
	assert.True(t, ok)
}

func TestSinkAcceptTwiceFails(t *testing.T) {
	out := newOutboundChannel(4)
	sink := newPendingSink(NumberID(1), NumberID(1), "x_subscription", nil, out)
	require.NoError(t, sink.Accept())
	assert.Error(t, sink.Accept())
}

func TestSinkRejectSendsErrorResponse(t *testing.T) {
	out := newOutboundChannel(4)
	sink := newPendingSink(NumberID(1), NumberID(1), "x_subscription", nil, out)
	require.NoError(t, sink.Reject(ErrSubscriptionNotFound))
	msg := <-out.ch
	require.NotNil(t, msg.Error)
}

func TestSinkSendFailsBeforeAccept(t *testing.T) {
	out := newOutboundChannel(4)
	sink := newPendingSink(NumberID(1), NumberID(1), "x_subscription", nil, out)
	assert.Equal(t, SendClosed, sink.Send("v"))
}

func TestSinkSendAfterAccept(t *testing.T) {
	out := newOutboundChannel(4)
	sink := newPendingSink(NumberID(1), NumberID(1), "x_subscription", nil, out)
	require.NoError(t, sink.Accept())
	<-out.ch // drain accept response

	assert.Equal(t, SendOK, sink.Send("v"))
	notif := <-out.ch
	assert.True(t, notif.isNotification())
}

func TestSinkCloseRemovesFromConnectionContext(t *testing.T) {
	out := newOutboundChannel(4)
	cc := newConnectionContext(1, "test", 0)
	sink := newPendingSink(NumberID(5), NumberID(1), "x_subscription", cc, out)
	require.NoError(t, sink.Accept())
	<-out.ch

	sink.Close(nil)
	_, ok := cc.lookupSink(NumberID(5))
	assert.False(t, ok)
	assert.Equal(t, SendClosed, sink.Send("v"))
}

func TestConnectionContextCloseAllSinksClosesEveryOwnedSink(t *testing.T) {
	out := newOutboundChannel(4)
	cc := newConnectionContext(1, "test", 0)
	a := newPendingSink(NumberID(1), NumberID(1), "x_subscription", cc, out)
	b := newPendingSink(NumberID(2), NumberID(2), "x_subscription", cc, out)
	require.NoError(t, a.Accept())
	require.NoError(t, b.Accept())
	<-out.ch
	<-out.ch

	cc.closeAllSinks()
	assert.False(t, a.isAccepted())
	assert.False(t, b.isAccepted())
}
