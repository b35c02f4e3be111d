package memory

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
	"google.golang.org/genai"
)

const (
	defaultEvidenceLimit = 10
	maxEvidenceLimit     = 20
)

//go:embed prompt/answer.md
var answerPromptRaw string

// noMemoryAnswer is returned without calling the generative backend when
// retrieval yields no evidence, so the model cannot hallucinate from an
// empty context.
const noMemoryAnswer = "I don't have enough information to answer that question."

// AnswerInput contains a natural language question scoped to one robot and
// optionally one user
type AnswerInput struct {
	Question    string
	RobotID     string
	UserID      string
	MaxEvidence int
}

// Answer is a generated answer with the exact evidence events it was
// grounded on. Confidence is reported by the generative backend.
type Answer struct {
	Answer     string         `json:"answer"`
	Confidence float64        `json:"confidence"`
	Evidence   []*model.Event `json:"evidence"`
}

// Answer retrieves evidence for the question and delegates to the generative
// backend. Evidence is presented to the generator in chronological order to
// preserve narrative coherence, and returned to the caller unchanged for
// auditability.
func (u *UseCase) Answer(ctx context.Context, input AnswerInput) (*Answer, error) {
	limit := input.MaxEvidence
	if limit <= 0 {
		limit = defaultEvidenceLimit
	}
	if limit > maxEvidenceLimit {
		limit = maxEvidenceLimit
	}

	scored, err := u.Search(ctx, SearchInput{
		Query: input.Question,
		Filter: interfaces.EventQuery{
			RobotID: input.RobotID,
			UserID:  input.UserID,
		},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	if len(scored) == 0 {
		return &Answer{
			Answer:     noMemoryAnswer,
			Confidence: 0,
			Evidence:   []*model.Event{},
		}, nil
	}

	evidence := make([]*model.Event, len(scored))
	for i, s := range scored {
		evidence[i] = s.Event
	}
	sort.Slice(evidence, func(i, j int) bool {
		return evidence[i].Timestamp.Before(evidence[j].Timestamp)
	})

	generated, confidence, err := u.generateAnswer(ctx, input.Question, evidence)
	if err != nil {
		return nil, err
	}

	return &Answer{
		Answer:     generated,
		Confidence: confidence,
		Evidence:   evidence,
	}, nil
}

func formatEvidence(events []*model.Event) string {
	var sb strings.Builder
	for i, event := range events {
		fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, event.Timestamp.Format("2006-01-02 15:04:05"), event.Type, event.Text)
	}
	return sb.String()
}

func (u *UseCase) generateAnswer(ctx context.Context, question string, evidence []*model.Event) (string, float64, error) {
	prompt := fmt.Sprintf(answerPromptRaw, formatEvidence(evidence), question)

	temperature := float32(0.3)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You are an assistant that answers questions based on a robot's memory events. Be concise and factual.", ""),
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"answer":     {Type: genai.TypeString},
				"confidence": {Type: genai.TypeNumber},
			},
			Required: []string{"answer", "confidence"},
		},
	}

	resp, err := u.gemini.GenerateContent(ctx, genai.Text(prompt), config)
	if err != nil {
		return "", 0, goerr.Wrap(model.ErrGenerationUnavailable, "failed to generate answer", goerr.V("cause", err))
	}

	text, err := responseText(resp)
	if err != nil {
		return "", 0, goerr.Wrap(model.ErrGenerationUnavailable, "no answer generated", goerr.V("cause", err))
	}

	var parsed struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return "", 0, goerr.Wrap(model.ErrGenerationUnavailable, "failed to parse answer", goerr.V("response", text))
	}

	return parsed.Answer, parsed.Confidence, nil
}
