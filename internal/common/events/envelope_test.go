package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentlane/internal/common/events"
	"rentlane/internal/common/types"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.FixedZone("CET", 3600))
	env, err := events.NewEnvelope("reservation.cancelled", "r-1", types.CorrelationID("corr-9"), at, map[string]string{"reason": "PAYMENT_EXPIRED"})
	require.NoError(t, err)
	assert.Equal(t, events.Source, env.Source)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := events.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, "reservation.cancelled", decoded.EventType)
	assert.Equal(t, "r-1", decoded.Subject)
	assert.Equal(t, types.CorrelationID("corr-9"), decoded.CorrelationID)
	assert.True(t, at.Equal(decoded.OccurredAt))

	var payload map[string]string
	require.NoError(t, decoded.UnmarshalPayload(&payload))
	assert.Equal(t, "PAYMENT_EXPIRED", payload["reason"])
}

func TestDecode_RejectsInvalidEventID(t *testing.T) {
	_, err := events.Decode([]byte(`{"event_id":"not-a-uuid","event_type":"x","payload":{}}`))
	assert.ErrorIs(t, err, events.ErrInvalidEventID)

	_, err = events.Decode([]byte(`{"event_type":"x","payload":{}}`))
	assert.ErrorIs(t, err, events.ErrInvalidEventID)
}
