package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-qe/fleet/types"
)

// Envelope is the wire format every payload is wrapped in (spec §4.3/§6).
type Envelope struct {
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // ms since epoch
	MessageID string `json:"messageId"`
}

// newEnvelope wraps data for channel with a fresh message ID and the
// current timestamp.
func newEnvelope(channel string, data any) Envelope {
	return Envelope{
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		MessageID: uuid.NewString(),
	}
}

// Marshal serializes the envelope to JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes raw and rejects any envelope missing a
// required field, per spec §6.
func UnmarshalEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, types.Wrap(types.ErrValidation, "decode envelope", err)
	}
	if e.Channel == "" || e.MessageID == "" || e.Timestamp == 0 {
		return Envelope{}, types.NewError(types.ErrValidation, "envelope missing required field")
	}
	return e, nil
}

// ObservedLatency computes now - e.Timestamp as the receiver-side metric.
func (e Envelope) ObservedLatency(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.Timestamp))
}
