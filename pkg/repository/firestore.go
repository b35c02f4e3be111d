package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	eventCollection   = "events"
	sessionCollection = "sessions"
	profileCollection = "profiles"

	distanceField = "vector_distance"
)

// Firestore implements Repository backed by Cloud Firestore. Event embeddings
// are stored as firestore.Vector32 and the similarity primitive is the
// FindNearest vector query, which applies the structured predicates of the
// query before ranking.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a Firestore-backed repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}
	return &Firestore{client: client}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

type eventDoc struct {
	ID        string             `firestore:"id"`
	RobotID   string             `firestore:"robot_id"`
	UserID    string             `firestore:"user_id"`
	Timestamp time.Time          `firestore:"timestamp"`
	Source    string             `firestore:"source"`
	Type      string             `firestore:"type"`
	Text      string             `firestore:"text"`
	Metadata  map[string]string  `firestore:"metadata"`
	SessionID string             `firestore:"session_id"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	CreatedAt time.Time          `firestore:"created_at"`
}

type rankedEventDoc struct {
	eventDoc
	VectorDistance float64 `firestore:"vector_distance"`
}

func toEventDoc(e *model.Event) *eventDoc {
	return &eventDoc{
		ID:        string(e.ID),
		RobotID:   e.RobotID,
		UserID:    e.UserID,
		Timestamp: e.Timestamp,
		Source:    string(e.Source),
		Type:      e.Type,
		Text:      e.Text,
		Metadata:  e.Metadata,
		SessionID: string(e.SessionID),
		Embedding: e.Embedding,
		CreatedAt: e.CreatedAt,
	}
}

func (d *eventDoc) toModel() *model.Event {
	return &model.Event{
		ID:        model.EventID(d.ID),
		RobotID:   d.RobotID,
		UserID:    d.UserID,
		Timestamp: d.Timestamp,
		Source:    model.Source(d.Source),
		Type:      d.Type,
		Text:      d.Text,
		Metadata:  d.Metadata,
		SessionID: model.SessionID(d.SessionID),
		Embedding: d.Embedding,
		CreatedAt: d.CreatedAt,
	}
}

func (r *Firestore) PutEvent(ctx context.Context, event *model.Event) error {
	ref := r.client.Collection(eventCollection).Doc(string(event.ID))
	if _, err := ref.Set(ctx, toEventDoc(event)); err != nil {
		return goerr.Wrap(err, "failed to put event", goerr.V("event_id", event.ID))
	}
	return nil
}

func (r *Firestore) GetEvent(ctx context.Context, id model.EventID) (*model.Event, error) {
	snap, err := r.client.Collection(eventCollection).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "event not found", goerr.V("event_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get event", goerr.V("event_id", id))
	}

	var doc eventDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode event", goerr.V("event_id", id))
	}
	return doc.toModel(), nil
}

// eventsQuery translates the structured predicates into a Firestore query.
// RequireText, RequireEmbedding and WithoutEmbedding cannot be expressed as
// Firestore predicates and are applied client-side by the callers.
func (r *Firestore) eventsQuery(query interfaces.EventQuery) firestore.Query {
	q := r.client.Collection(eventCollection).Query
	if query.RobotID != "" {
		q = q.Where("robot_id", "==", query.RobotID)
	}
	if query.UserID != "" {
		q = q.Where("user_id", "==", query.UserID)
	}
	if !query.TimeFrom.IsZero() {
		q = q.Where("timestamp", ">=", query.TimeFrom)
	}
	if !query.TimeTo.IsZero() {
		q = q.Where("timestamp", "<=", query.TimeTo)
	}
	if len(query.Sources) == 1 {
		q = q.Where("source", "==", string(query.Sources[0]))
	} else if len(query.Sources) > 1 {
		sources := make([]string, len(query.Sources))
		for i, s := range query.Sources {
			sources[i] = string(s)
		}
		q = q.Where("source", "in", sources)
	}
	if len(query.Types) == 1 {
		q = q.Where("type", "==", query.Types[0])
	} else if len(query.Types) > 1 {
		q = q.Where("type", "in", query.Types)
	}
	if query.SessionID != "" {
		q = q.Where("session_id", "==", string(query.SessionID))
	}
	if query.WithoutSession {
		q = q.Where("session_id", "==", "")
	}
	for k, v := range query.Metadata {
		q = q.Where("metadata."+k, "==", v)
	}
	return q
}

func (r *Firestore) needsClientFilter(q interfaces.EventQuery) bool {
	return q.RequireText || q.RequireEmbedding || q.WithoutEmbedding
}

func (r *Firestore) ListEvents(ctx context.Context, query interfaces.EventQuery) ([]*model.Event, error) {
	q := r.eventsQuery(query)

	dir := firestore.Asc
	if query.Descending {
		dir = firestore.Desc
	}
	q = q.OrderBy("timestamp", dir)

	// The limit can only be pushed down when no client-side predicate can
	// shrink the result set afterwards.
	clientFilter := r.needsClientFilter(query)
	if query.Limit > 0 && !clientFilter {
		q = q.Limit(query.Limit)
	}

	var events []*model.Event
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate events")
		}

		var doc eventDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode event", goerr.V("doc_id", snap.Ref.ID))
		}

		event := doc.toModel()
		if clientFilter && !query.Match(event) {
			continue
		}
		events = append(events, event)
		if query.Limit > 0 && len(events) >= query.Limit {
			break
		}
	}
	return events, nil
}

func (r *Firestore) AttachEmbedding(ctx context.Context, id model.EventID, embedding firestore.Vector32) error {
	ref := r.client.Collection(eventCollection).Doc(string(id))
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "embedding", Value: embedding},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(model.ErrNotFound, "event not found", goerr.V("event_id", id))
		}
		return goerr.Wrap(err, "failed to attach embedding", goerr.V("event_id", id))
	}
	return nil
}

func (r *Firestore) ClaimSession(ctx context.Context, id model.EventID, sessionID model.SessionID) error {
	ref := r.client.Collection(eventCollection).Doc(string(id))

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrNotFound, "event not found", goerr.V("event_id", id))
			}
			return goerr.Wrap(err, "failed to get event", goerr.V("event_id", id))
		}

		current, err := snap.DataAt("session_id")
		if err != nil {
			return goerr.Wrap(err, "failed to read session_id", goerr.V("event_id", id))
		}
		if sid, ok := current.(string); ok && sid != "" {
			return goerr.Wrap(model.ErrConflictingUpdate, "event already assigned to a session",
				goerr.V("event_id", id), goerr.V("session_id", sid))
		}

		return tx.Update(ref, []firestore.Update{
			{Path: "session_id", Value: string(sessionID)},
		})
	})
	if err != nil {
		return err
	}
	return nil
}

func (r *Firestore) SearchSimilarEvents(ctx context.Context, query interfaces.EventQuery, embedding firestore.Vector32, limit int) ([]*model.ScoredEvent, error) {
	if query.RobotID == "" {
		return nil, goerr.Wrap(model.ErrInvalidFilter, "robot_id is required")
	}
	if limit <= 0 {
		return nil, goerr.New("limit must be positive", goerr.V("limit", limit))
	}

	vq := r.eventsQuery(query).FindNearest("embedding", embedding, limit,
		firestore.DistanceMeasureCosine, &firestore.FindNearestOptions{
			DistanceResultField: distanceField,
		})

	var scored []*model.ScoredEvent
	iter := vq.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate vector search results")
		}

		var doc rankedEventDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode event", goerr.V("doc_id", snap.Ref.ID))
		}

		event := doc.toModel()
		if !event.HasEmbedding() {
			continue
		}
		if query.RequireText && event.Text == "" {
			continue
		}
		scored = append(scored, &model.ScoredEvent{
			Event:    event,
			Distance: doc.VectorDistance,
		})
	}

	// Firestore leaves the order of equal distances unspecified
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].Event.Timestamp.After(scored[j].Event.Timestamp)
	})
	return scored, nil
}

type sessionDoc struct {
	ID        string         `firestore:"id"`
	RobotID   string         `firestore:"robot_id"`
	UserID    string         `firestore:"user_id"`
	StartTime time.Time      `firestore:"start_time"`
	EndTime   time.Time      `firestore:"end_time"`
	Summary   string         `firestore:"summary"`
	Metadata  map[string]any `firestore:"metadata"`
	CreatedAt time.Time      `firestore:"created_at"`
}

func (r *Firestore) PutSession(ctx context.Context, session *model.Session) error {
	ref := r.client.Collection(sessionCollection).Doc(string(session.ID))
	doc := &sessionDoc{
		ID:        string(session.ID),
		RobotID:   session.RobotID,
		UserID:    session.UserID,
		StartTime: session.StartTime,
		EndTime:   session.EndTime,
		Summary:   session.Summary,
		Metadata:  session.Metadata,
		CreatedAt: session.CreatedAt,
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put session", goerr.V("session_id", session.ID))
	}
	return nil
}

func (r *Firestore) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	snap, err := r.client.Collection(sessionCollection).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "session not found", goerr.V("session_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", id))
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("session_id", id))
	}
	return &model.Session{
		ID:        model.SessionID(doc.ID),
		RobotID:   doc.RobotID,
		UserID:    doc.UserID,
		StartTime: doc.StartTime,
		EndTime:   doc.EndTime,
		Summary:   doc.Summary,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	}, nil
}

type profileDoc struct {
	RobotID     string       `firestore:"robot_id"`
	EntityType  string       `firestore:"entity_type"`
	EntityID    string       `firestore:"entity_id"`
	Summary     string       `firestore:"summary"`
	Facts       []model.Fact `firestore:"facts"`
	LastUpdated time.Time    `firestore:"last_updated"`
	CreatedAt   time.Time    `firestore:"created_at"`
}

// profileDocID builds the document ID from the profile key, so each
// (robot_id, entity_type, entity_id) maps to exactly one document.
func profileDocID(key model.ProfileKey) string {
	return key.RobotID + ":" + string(key.EntityType) + ":" + key.EntityID
}

func (d *profileDoc) toModel() *model.Profile {
	return &model.Profile{
		RobotID:     d.RobotID,
		EntityType:  model.EntityType(d.EntityType),
		EntityID:    d.EntityID,
		Summary:     d.Summary,
		Facts:       d.Facts,
		LastUpdated: d.LastUpdated,
		CreatedAt:   d.CreatedAt,
	}
}

func (r *Firestore) GetProfile(ctx context.Context, key model.ProfileKey) (*model.Profile, error) {
	snap, err := r.client.Collection(profileCollection).Doc(profileDocID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "profile not found",
				goerr.V("robot_id", key.RobotID), goerr.V("entity_type", key.EntityType), goerr.V("entity_id", key.EntityID))
		}
		return nil, goerr.Wrap(err, "failed to get profile")
	}

	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode profile", goerr.V("doc_id", snap.Ref.ID))
	}
	return doc.toModel(), nil
}

func (r *Firestore) MutateProfile(ctx context.Context, key model.ProfileKey, fn func(*model.Profile) error) (*model.Profile, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	ref := r.client.Collection(profileCollection).Doc(profileDocID(key))

	var mutated *model.Profile
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		profile := &model.Profile{
			RobotID:    key.RobotID,
			EntityType: key.EntityType,
			EntityID:   key.EntityID,
			CreatedAt:  time.Now(),
		}

		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get profile")
		}
		if err == nil {
			var doc profileDoc
			if err := snap.DataTo(&doc); err != nil {
				return goerr.Wrap(err, "failed to decode profile", goerr.V("doc_id", snap.Ref.ID))
			}
			profile = doc.toModel()
		}

		if err := fn(profile); err != nil {
			return err
		}

		mutated = profile
		return tx.Set(ref, &profileDoc{
			RobotID:     profile.RobotID,
			EntityType:  string(profile.EntityType),
			EntityID:    profile.EntityID,
			Summary:     profile.Summary,
			Facts:       profile.Facts,
			LastUpdated: profile.LastUpdated,
			CreatedAt:   profile.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return mutated, nil
}
