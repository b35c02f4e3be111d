package model

import (
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type EventID string

// NewEventID generates a new unique EventID
func NewEventID() EventID {
	return EventID(uuid.New().String())
}

type Source string

const (
	SourceSpeech Source = "speech"
	SourceVision Source = "vision"
	SourceSystem Source = "system"
	SourceAction Source = "action"
)

// Validate checks if the source is valid
func (s Source) Validate() error {
	switch s {
	case SourceSpeech, SourceVision, SourceSystem, SourceAction:
		return nil
	default:
		return goerr.New("invalid event source", goerr.V("source", s))
	}
}

// Event is an atomic timestamped record of something a robot observed or did.
// An event is immutable after ingestion except for two mutations: embedding
// attachment and session assignment.
type Event struct {
	ID        EventID
	RobotID   string
	UserID    string
	Timestamp time.Time
	Source    Source
	Type      string
	Text      string
	Metadata  map[string]string
	SessionID SessionID
	Embedding firestore.Vector32
	CreatedAt time.Time
}

// Validate checks required fields of an event
func (e *Event) Validate() error {
	if e.RobotID == "" {
		return goerr.New("robot_id is empty")
	}
	if e.Timestamp.IsZero() {
		return goerr.New("timestamp is empty")
	}
	if e.Type == "" {
		return goerr.New("type is empty")
	}
	return e.Source.Validate()
}

// HasEmbedding reports whether the event is visible to similarity search
func (e *Event) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// ScoredEvent is an event with its cosine distance to a query vector.
// Lower distance means more similar. Distances are comparable only within
// a single result set.
type ScoredEvent struct {
	Event    *Event
	Distance float64
}
