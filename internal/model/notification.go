package model

import (
	"time"

	mqcontracts "notifysync/contracts/mq"
)

// Notification is the local notification model. IDs are opaque strings
// assigned by the backend and unique within a user's collection. Read
// only ever transitions false to true.
type Notification struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}

// FromEnvelope normalizes a realtime envelope into a Notification.
// The wire "message" field becomes the local body.
func FromEnvelope(e *mqcontracts.Envelope) *Notification {
	return &Notification{
		ID:        e.ID,
		Title:     e.Title,
		Body:      e.Message,
		Data:      e.Data,
		Read:      false,
		CreatedAt: e.CreatedAt,
	}
}

// DeviceToken is one registered (user, device) push token. Rows are
// insert-only; registration checks for existence first.
type DeviceToken struct {
	ID        int       `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

// AppState mirrors the host application's foreground state.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)
