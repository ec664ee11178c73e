package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeSingleCall(t *testing.T) {
	single, batch, isBatch := decodeEnvelope([]byte(`{"jsonrpc":"2.0","id":1,"method":"foo_bar","params":[1,2]}`))
	require.False(t, isBatch)
	require.Nil(t, batch)
	require.NotNil(t, single)
	assert.True(t, single.isCall())
	assert.Equal(t, "foo_bar", single.Method)
}

func TestDecodeEnvelopeMalformedJSONYieldsParseError(t *testing.T) {
	single, _, isBatch := decodeEnvelope([]byte(`{not json`))
	require.False(t, isBatch)
	require.NotNil(t, single)
	require.NotNil(t, single.Error)
	assert.Equal(t, CodeParseError, single.Error.Code)
}

func TestDecodeEnvelopeWrongVersionIsInvalidRequest(t *testing.T) {
	single, _, isBatch := decodeEnvelope([]byte(`{"jsonrpc":"1.0","id":1,"method":"foo_bar"}`))
	require.False(t, isBatch)
	require.NotNil(t, single.Error)
	assert.Equal(t, CodeInvalidRequest, single.Error.Code)
}

func TestDecodeEnvelopeEmptyBatchIsInvalidRequest(t *testing.T) {
	single, _, isBatch := decodeEnvelope([]byte(`[]`))
	require.False(t, isBatch)
	require.NotNil(t, single.Error)
	assert.Equal(t, CodeInvalidRequest, single.Error.Code)
}

func TestDecodeEnvelopeBatchWithOneBadElement(t *testing.T) {
	raw := []byte(`[{"jsonrpc":"2.0","id":1,"method":"foo_bar"},{"foo":"bar"}]`)
	single, batch, isBatch := decodeEnvelope(raw)
	require.True(t, isBatch)
	require.Nil(t, single)
	require.Len(t, batch, 2)
	assert.True(t, batch[0].isCall())
	assert.NotNil(t, batch[1].Error)
	assert.Equal(t, CodeInvalidRequest, batch[1].Error.Code)
}

func TestNotificationHasNoID(t *testing.T) {
	single, _, _ := decodeEnvelope([]byte(`{"jsonrpc":"2.0","method":"foo_bar","params":[1]}`))
	assert.True(t, single.isNotification())
	assert.False(t, single.isCall())
}

func TestSubscriptionNotificationRoundTrip(t *testing.T) {
	msg := newSubscriptionNotification("foo_subscription", NumberID(7), json.RawMessage(`"hello"`))
	assert.True(t, msg.isNotification())

	var p subscriptionParams
	require.NoError(t, json.Unmarshal(msg.Params, &p))
	id, err := decodeID(p.Subscription)
	require.NoError(t, err)
	assert.Equal(t, "7", id.String())
	assert.Equal(t, `"hello"`, string(p.Result))
}

func TestIDKeyDistinguishesNumberAndStringWithSameText(t *testing.T) {
	assert.NotEqual(t, idKey(NumberID(7)), idKey(StringID("7")))
}
