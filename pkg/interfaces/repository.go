package interfaces

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/kioku/pkg/model"
)

// EventQuery is a conjunction of structured predicates over events.
// Zero values mean "no restriction" except RobotID, which callers of
// similarity search must always set.
type EventQuery struct {
	RobotID   string
	UserID    string
	TimeFrom  time.Time
	TimeTo    time.Time
	Sources   []model.Source
	Types     []string
	SessionID model.SessionID

	// WithoutSession restricts to events not yet assigned to a session
	WithoutSession bool

	// Metadata restricts to events whose metadata contains all given pairs
	Metadata map[string]string

	RequireText      bool
	RequireEmbedding bool

	// WithoutEmbedding restricts to events still waiting for a vector
	WithoutEmbedding bool

	// Descending orders by timestamp descending (default ascending)
	Descending bool
	Limit      int
}

// Match reports whether the event satisfies every predicate of the query.
// Repository implementations that cannot push all predicates into their
// backend use this for post-filtering; it is also the reference for the
// filter soundness property.
func (q EventQuery) Match(e *model.Event) bool {
	if q.RobotID != "" && e.RobotID != q.RobotID {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if !q.TimeFrom.IsZero() && e.Timestamp.Before(q.TimeFrom) {
		return false
	}
	if !q.TimeTo.IsZero() && e.Timestamp.After(q.TimeTo) {
		return false
	}
	if len(q.Sources) > 0 {
		found := false
		for _, s := range q.Sources {
			if e.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.SessionID != "" && e.SessionID != q.SessionID {
		return false
	}
	if q.WithoutSession && e.SessionID != "" {
		return false
	}
	for k, v := range q.Metadata {
		if e.Metadata[k] != v {
			return false
		}
	}
	if q.RequireText && e.Text == "" {
		return false
	}
	if q.RequireEmbedding && !e.HasEmbedding() {
		return false
	}
	if q.WithoutEmbedding && e.HasEmbedding() {
		return false
	}
	return true
}

// Repository defines the interface for event, session and profile persistence.
// Events are the single source of truth; sessions and profiles are derived
// views that can be recomputed by replaying events.
type Repository interface {
	// PutEvent saves a new event
	PutEvent(ctx context.Context, event *model.Event) error

	// GetEvent retrieves an event by ID
	GetEvent(ctx context.Context, id model.EventID) (*model.Event, error)

	// ListEvents retrieves events matching the query, ordered by timestamp
	ListEvents(ctx context.Context, query EventQuery) ([]*model.Event, error)

	// AttachEmbedding sets the embedding vector of an event, making it
	// visible to similarity search
	AttachEmbedding(ctx context.Context, id model.EventID, embedding firestore.Vector32) error

	// ClaimSession assigns a session to an event only if the event has no
	// session yet. Returns model.ErrConflictingUpdate when the event was
	// already claimed by another run.
	ClaimSession(ctx context.Context, id model.EventID, sessionID model.SessionID) error

	// SearchSimilarEvents performs nearest-neighbor search over embedded
	// events restricted to the query predicates. Candidates are filtered
	// before ranking; events excluded by the query never appear regardless
	// of similarity. Results are ordered by ascending cosine distance,
	// ties broken by descending timestamp.
	SearchSimilarEvents(ctx context.Context, query EventQuery, embedding firestore.Vector32, limit int) ([]*model.ScoredEvent, error)

	// PutSession saves a session
	PutSession(ctx context.Context, session *model.Session) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)

	// GetProfile retrieves a profile by key. Returns model.ErrNotFound if
	// no profile exists for the key.
	GetProfile(ctx context.Context, key model.ProfileKey) (*model.Profile, error)

	// MutateProfile atomically applies fn to the profile under the key,
	// creating an empty profile first if absent, and persists the result.
	// Concurrent mutations of the same profile do not lose updates.
	MutateProfile(ctx context.Context, key model.ProfileKey, fn func(*model.Profile) error) (*model.Profile, error)
}
