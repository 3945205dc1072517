package types

import "github.com/google/uuid"

// CorrelationHeader carries a CorrelationID on HTTP requests and AMQP messages.
const CorrelationHeader = "X-Correlation-ID"

// CorrelationID ties together the log lines and broker messages produced by
// one request, webhook delivery or job run.
type CorrelationID string

// NewCorrelationID generates a new unique CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// CorrelationIDOrNew returns the inbound id, or a fresh one when it is blank
// or longer than a UUID-sized token.
func CorrelationIDOrNew(inbound string) CorrelationID {
	if inbound == "" || len(inbound) > 64 {
		return NewCorrelationID()
	}
	return CorrelationID(inbound)
}

func (c CorrelationID) String() string {
	return string(c)
}

func (c CorrelationID) IsEmpty() bool {
	return c == ""
}
