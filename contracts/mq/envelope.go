package mq

import (
	"fmt"
	"time"
)

// EnvelopeType discriminates the audience of a realtime envelope.
type EnvelopeType string

const (
	EnvelopeSingle    EnvelopeType = "single"
	EnvelopeBroadcast EnvelopeType = "broadcast"
	EnvelopeGroup     EnvelopeType = "group"
)

// Routing keys on the notifications exchange. Direct envelopes use the
// per-user key; broadcast and group use the shared keys and are
// filtered (group only) on the consumer side.
const (
	RoutingKeyBroadcast = "broadcast"
	RoutingKeyGroup     = "group"
)

// UserRoutingKey returns the direct routing key for a user.
func UserRoutingKey(userID string) string {
	return fmt.Sprintf("user.%s", userID)
}

// Envelope is the wire shape of a realtime notification event. It is
// transport-only: consumers normalize it into the local notification
// model on receipt.
type Envelope struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
	UserID      string            `json:"user_id"`
	CreatedAt   time.Time         `json:"created_at"`
	Type        EnvelopeType      `json:"type"`
	TargetUsers []string          `json:"target_users,omitempty"`
}

// Targets reports whether the envelope should be delivered to userID.
// Single envelopes match on UserID, broadcast matches everyone, and
// group matches when the user appears in TargetUsers.
func (e *Envelope) Targets(userID string) bool {
	switch e.Type {
	case EnvelopeSingle:
		return e.UserID == userID
	case EnvelopeBroadcast:
		return true
	case EnvelopeGroup:
		for _, id := range e.TargetUsers {
			if id == userID {
				return true
			}
		}
		return false
	default:
		return false
	}
}
