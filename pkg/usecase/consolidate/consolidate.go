package consolidate

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"google.golang.org/genai"
)

const (
	defaultGapThreshold   = 30 * time.Minute
	defaultRecentEventCap = 50
)

// UseCase provides the two background consolidation algorithms: session
// segmentation and profile consolidation. Both are stateless entry points
// invoked by an external scheduler with explicit window parameters.
type UseCase struct {
	repo           interfaces.Repository
	gemini         adapter.Gemini
	now            func() time.Time
	gapThreshold   time.Duration
	recentEventCap int
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithNow overrides the clock, for tests
func WithNow(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// WithGapThreshold overrides the time gap that splits two consecutive events
// into separate sessions
func WithGapThreshold(gap time.Duration) Option {
	return func(uc *UseCase) {
		uc.gapThreshold = gap
	}
}

// WithRecentEventCap overrides the number of recent events fed into one
// profile consolidation
func WithRecentEventCap(cap int) Option {
	return func(uc *UseCase) {
		uc.recentEventCap = cap
	}
}

// New creates a new consolidation UseCase instance
func New(repo interfaces.Repository, gemini adapter.Gemini, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:           repo,
		gemini:         gemini,
		now:            time.Now,
		gapThreshold:   defaultGapThreshold,
		recentEventCap: defaultRecentEventCap,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// responseText concatenates the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("no content generated")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}

	if sb.Len() == 0 {
		return "", goerr.New("empty content generated")
	}
	return sb.String(), nil
}
