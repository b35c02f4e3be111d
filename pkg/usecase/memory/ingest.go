package memory

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

// Ingest persists a new event and attaches its embedding synchronously when
// the event carries text. Embedding failure does not fail ingestion: the
// event stays queryable by structured filters and invisible to similarity
// search until a later backfill attaches the vector.
func (u *UseCase) Ingest(ctx context.Context, event *model.Event) (model.EventID, error) {
	if event.ID == "" {
		event.ID = model.NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = u.now()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = u.now()
	}

	if err := event.Validate(); err != nil {
		return "", goerr.Wrap(err, "invalid event")
	}

	if err := u.repo.PutEvent(ctx, event); err != nil {
		return "", err
	}

	if event.Text == "" {
		return event.ID, nil
	}

	resp, err := u.gemini.Embedding(ctx, event.Text)
	if err != nil {
		logging.From(ctx).Warn("failed to embed event text, leaving event pending",
			"event_id", event.ID, "error", err)
		return event.ID, nil
	}
	if len(resp.Embeddings) == 0 {
		logging.From(ctx).Warn("embedding gateway returned no vector", "event_id", event.ID)
		return event.ID, nil
	}

	vector := firestore.Vector32(resp.Embeddings[0].Values)
	if err := u.repo.AttachEmbedding(ctx, event.ID, vector); err != nil {
		return "", err
	}
	event.Embedding = vector

	return event.ID, nil
}
