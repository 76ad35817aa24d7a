package chatlog

import (
	"time"

	"github.com/google/uuid"
)

// Origin says which side authored a message.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Message is one entry in the conversation transcript. ID is assigned once
// at append time and never reused; iteration order of the log is append
// order, not CreatedAt order (clock skew between device and backend is
// expected).
type Message struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	Origin    Origin    `json:"origin"`
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
