package bus

import (
	"testing"

	"futuresbot/internal/core"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{Topic: "order_book:BTCUSDT", Value: []byte(`{"bids":[]}`)}

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.Topic, decoded.Topic)
	assert.Equal(t, env.Value, decoded.Value)
	assert.Nil(t, decoded.CorrelationID)
}

func TestEnvelopeRoundTripWithCorrelation(t *testing.T) {
	id := uuid.New()
	env := &Envelope{Topic: "API@place_order", CorrelationID: &id, Value: []byte(`{}`)}

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.CorrelationID)
	assert.Equal(t, id, *decoded.CorrelationID)
}

func TestEnvelopeEmptyValue(t *testing.T) {
	env := &Envelope{Topic: "signal:BTCUSDT"}

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Empty(t, decoded.Value)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":              nil,
		"too short":          {0x00},
		"truncated topic":    {0x00, 0x05, 'a', 'b'},
		"bad flag":           {0x00, 0x01, 'a', 0x07, 0x00, 0x00, 0x00, 0x00},
		"truncated uuid":     {0x00, 0x01, 'a', 0x01, 0x01, 0x02},
		"length mismatch":    {0x00, 0x01, 'a', 0x00, 0x00, 0x00, 0x00, 0x09, 'x'},
		"trailing bytes":     {0x00, 0x01, 'a', 0x00, 0x00, 0x00, 0x00, 0x01, 'x', 'y'},
		"missing value size": {0x00, 0x01, 'a', 0x00, 0x00},
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope(data)
			assert.ErrorIs(t, err, core.ErrDecode)
		})
	}
}
