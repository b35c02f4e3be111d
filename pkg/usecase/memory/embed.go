package memory

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
)

const embedBatchSize = 16

// BackfillEmbeddings finds events that carry text but no embedding vector and
// attaches vectors in batches. Returns the number of events embedded. A
// gateway failure aborts the backfill with ErrEmbeddingUnavailable; already
// attached vectors are kept (the operation is resumable).
func (u *UseCase) BackfillEmbeddings(ctx context.Context, robotID string, limit int) (int, error) {
	if robotID == "" {
		return 0, goerr.Wrap(model.ErrInvalidFilter, "robot_id is required")
	}

	pending, err := u.repo.ListEvents(ctx, interfaces.EventQuery{
		RobotID:          robotID,
		RequireText:      true,
		WithoutEmbedding: true,
		Limit:            limit,
	})
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	done := 0
	for start := 0; start < len(pending); start += embedBatchSize {
		end := min(start+embedBatchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, event := range batch {
			texts[i] = event.Text
		}

		resp, err := u.gemini.EmbedBatch(ctx, texts)
		if err != nil {
			return done, goerr.Wrap(model.ErrEmbeddingUnavailable, "failed to embed batch",
				goerr.V("cause", err), goerr.V("batch_size", len(batch)))
		}
		if len(resp.Embeddings) != len(batch) {
			return done, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding count mismatch",
				goerr.V("expected", len(batch)), goerr.V("actual", len(resp.Embeddings)))
		}

		for i, event := range batch {
			vector := firestore.Vector32(resp.Embeddings[i].Values)
			if err := u.repo.AttachEmbedding(ctx, event.ID, vector); err != nil {
				return done, err
			}
			done++
		}
	}

	logging.From(ctx).Info("backfilled embeddings", "robot_id", robotID, "count", done)
	return done, nil
}
