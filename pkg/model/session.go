package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Session is a contiguous group of events treated as one interaction.
// StartTime and EndTime are the extremes of the member events' timestamps.
type Session struct {
	ID        SessionID
	RobotID   string
	UserID    string
	StartTime time.Time
	EndTime   time.Time
	Summary   string
	Metadata  map[string]any
	CreatedAt time.Time
}
