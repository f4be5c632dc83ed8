package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a student connected to the classroom.
type Participant struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	ConnID   string    `json:"connId"`
	Kicked   bool      `json:"isKicked"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Message is a chat line. Sender is a display name; ConnID is the connection it came from.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	ConnID    string    `json:"connId"`
	CreatedAt time.Time `json:"createdAt"`
}
