package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rentlane/internal/common/types"
)

// Source identifies this service as the producer of an envelope.
const Source = "rentlane.reservation"

// ErrInvalidEventID is returned when an envelope carries a malformed event id.
var ErrInvalidEventID = errors.New("invalid event id")

// EventID uniquely identifies a published message. Consumers deduplicate
// redeliveries on it.
type EventID string

func NewEventID() EventID {
	return EventID(uuid.NewString())
}

// ParseEventID validates s as a UUID.
func ParseEventID(s string) (EventID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w %q", ErrInvalidEventID, s)
	}
	return EventID(s), nil
}

func (e EventID) String() string {
	return string(e)
}

// Envelope wraps every message published to the broker. Subject is the
// aggregate the event is about, usually a reservation id.
type Envelope struct {
	EventID       EventID             `json:"event_id"`
	EventType     string              `json:"event_type"`
	Source        string              `json:"source"`
	Subject       string              `json:"subject,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
	CorrelationID types.CorrelationID `json:"correlation_id,omitempty"`
	Payload       json.RawMessage     `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope stamped at occurredAt.
func NewEnvelope(eventType, subject string, correlationID types.CorrelationID, occurredAt time.Time, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Envelope{
		EventID:       NewEventID(),
		EventType:     eventType,
		Source:        Source,
		Subject:       subject,
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		Payload:       body,
	}, nil
}

// Decode parses an envelope received from the broker.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if _, err := ParseEventID(env.EventID.String()); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// UnmarshalPayload decodes the payload into target.
func (e Envelope) UnmarshalPayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}
