package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
	chromem "github.com/philippgille/chromem-go"
)

// Local implements Repository with in-memory tables and chromem-go as the
// nearest-neighbor index. Intended for development and algorithm tests; all
// data is lost when the process exits.
//
// The event table is authoritative: structured predicates are evaluated
// against it, and chromem only ranks the embedded events of one robot. Every
// candidate of a robot is ranked before predicates are applied, which is
// equivalent to filter-then-rank because no truncation happens in between.
type Local struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	events      map[model.EventID]*model.Event
	sessions    map[model.SessionID]*model.Session
	profiles    map[model.ProfileKey]*model.Profile
}

// NewLocal creates an empty in-memory repository
func NewLocal() *Local {
	return &Local{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		events:      make(map[model.EventID]*model.Event),
		sessions:    make(map[model.SessionID]*model.Session),
		profiles:    make(map[model.ProfileKey]*model.Profile),
	}
}

// collection returns the per-robot chromem collection, creating it on first use
func (r *Local) collection(robotID string) (*chromem.Collection, error) {
	if col, ok := r.collections[robotID]; ok {
		return col, nil
	}

	col, err := r.db.CreateCollection("robot_"+robotID, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection", goerr.V("robot_id", robotID))
	}
	r.collections[robotID] = col
	return col, nil
}

func (r *Local) indexEvent(ctx context.Context, event *model.Event) error {
	col, err := r.collection(event.RobotID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        string(event.ID),
		Content:   event.Text,
		Embedding: []float32(event.Embedding),
		Metadata:  map[string]string{"robot_id": event.RobotID},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to index event", goerr.V("event_id", event.ID))
	}
	return nil
}

func cloneEvent(e *model.Event) *model.Event {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	if e.Embedding != nil {
		c.Embedding = make(firestore.Vector32, len(e.Embedding))
		copy(c.Embedding, e.Embedding)
	}
	return &c
}

func cloneProfile(p *model.Profile) *model.Profile {
	c := *p
	if p.Facts != nil {
		c.Facts = make([]model.Fact, len(p.Facts))
		copy(c.Facts, p.Facts)
	}
	return &c
}

func (r *Local) PutEvent(ctx context.Context, event *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneEvent(event)
	r.events[stored.ID] = stored

	if stored.HasEmbedding() {
		return r.indexEvent(ctx, stored)
	}
	return nil
}

func (r *Local) GetEvent(ctx context.Context, id model.EventID) (*model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "event not found", goerr.V("event_id", id))
	}
	return cloneEvent(event), nil
}

func (r *Local) ListEvents(ctx context.Context, query interfaces.EventQuery) ([]*model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*model.Event
	for _, event := range r.events {
		if query.Match(event) {
			matched = append(matched, cloneEvent(event))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if query.Descending {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

func (r *Local) AttachEmbedding(ctx context.Context, id model.EventID, embedding firestore.Vector32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return goerr.Wrap(model.ErrNotFound, "event not found", goerr.V("event_id", id))
	}

	event.Embedding = make(firestore.Vector32, len(embedding))
	copy(event.Embedding, embedding)

	return r.indexEvent(ctx, event)
}

func (r *Local) ClaimSession(ctx context.Context, id model.EventID, sessionID model.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return goerr.Wrap(model.ErrNotFound, "event not found", goerr.V("event_id", id))
	}
	if event.SessionID != "" {
		return goerr.Wrap(model.ErrConflictingUpdate, "event already assigned to a session",
			goerr.V("event_id", id), goerr.V("session_id", event.SessionID))
	}

	event.SessionID = sessionID
	return nil
}

func (r *Local) SearchSimilarEvents(ctx context.Context, query interfaces.EventQuery, embedding firestore.Vector32, limit int) ([]*model.ScoredEvent, error) {
	if query.RobotID == "" {
		return nil, goerr.Wrap(model.ErrInvalidFilter, "robot_id is required")
	}
	if limit <= 0 {
		return nil, goerr.New("limit must be positive", goerr.V("limit", limit))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	col, ok := r.collections[query.RobotID]
	if !ok || col.Count() == 0 {
		return nil, nil
	}

	// Rank every embedded event of the robot, then apply predicates.
	results, err := col.QueryEmbedding(ctx, []float32(embedding), col.Count(), nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query embeddings")
	}

	query.RequireEmbedding = true
	var scored []*model.ScoredEvent
	for _, result := range results {
		event, ok := r.events[model.EventID(result.ID)]
		if !ok || !query.Match(event) {
			continue
		}
		scored = append(scored, &model.ScoredEvent{
			Event:    cloneEvent(event),
			Distance: 1 - float64(result.Similarity),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].Event.Timestamp.After(scored[j].Event.Timestamp)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (r *Local) PutSession(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	r.sessions[session.ID] = &stored
	return nil
}

func (r *Local) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "session not found", goerr.V("session_id", id))
	}
	copied := *session
	return &copied, nil
}

func (r *Local) GetProfile(ctx context.Context, key model.ProfileKey) (*model.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[key]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "profile not found",
			goerr.V("robot_id", key.RobotID), goerr.V("entity_type", key.EntityType), goerr.V("entity_id", key.EntityID))
	}
	return cloneProfile(profile), nil
}

func (r *Local) MutateProfile(ctx context.Context, key model.ProfileKey, fn func(*model.Profile) error) (*model.Profile, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var profile *model.Profile
	if existing, ok := r.profiles[key]; ok {
		profile = cloneProfile(existing)
	} else {
		profile = &model.Profile{
			RobotID:    key.RobotID,
			EntityType: key.EntityType,
			EntityID:   key.EntityID,
			CreatedAt:  time.Now(),
		}
	}

	if err := fn(profile); err != nil {
		return nil, err
	}

	r.profiles[key] = profile
	return cloneProfile(profile), nil
}
