package memory

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
)

const defaultSearchLimit = 10

// SearchInput contains the query text and structured filters for a
// similarity search
type SearchInput struct {
	Query  string
	Filter interfaces.EventQuery
	Limit  int
}

// Search embeds the query text and returns the nearest embedded events that
// satisfy every filter predicate, ordered by ascending cosine distance.
// Events without an embedding never appear. The search is a pure read.
func (u *UseCase) Search(ctx context.Context, input SearchInput) ([]*model.ScoredEvent, error) {
	if input.Filter.RobotID == "" {
		return nil, goerr.Wrap(model.ErrInvalidFilter, "robot_id is required")
	}
	if input.Query == "" {
		return nil, goerr.Wrap(model.ErrInvalidFilter, "query text is empty")
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	resp, err := u.gemini.Embedding(ctx, input.Query)
	if err != nil {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "failed to embed query", goerr.V("cause", err))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding gateway returned no vector")
	}

	query := input.Filter
	query.RequireEmbedding = true

	vector := firestore.Vector32(resp.Embeddings[0].Values)
	return u.repo.SearchSimilarEvents(ctx, query, vector, limit)
}
