package consolidate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/repository"
	"github.com/m-mizutani/kioku/pkg/usecase/consolidate"
	"google.golang.org/genai"
)

type mockGemini struct {
	generateFunc  func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	generateCalls int
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.generateCalls++
	return m.generateFunc(ctx, contents, config)
}

func (m *mockGemini) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockGemini) EmbedBatch(ctx context.Context, texts []string) (*genai.EmbedContentResponse, error) {
	return nil, errors.New("not implemented")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{{Text: text}},
				},
			},
		},
	}
}

// summarizeOrExtract routes generation calls by response type: fact
// extraction asks for a JSON array, summaries are plain text
func summarizeOrExtract(factsJSON string) func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		if config != nil && config.ResponseMIMEType == "application/json" {
			return textResponse(factsJSON), nil
		}
		return textResponse("a short summary"), nil
	}
}

func putEvent(t *testing.T, repo interfaces.Repository, robotID, userID string, ts time.Time, text string, metadata map[string]string) *model.Event {
	t.Helper()
	event := &model.Event{
		ID:        model.NewEventID(),
		RobotID:   robotID,
		UserID:    userID,
		Timestamp: ts,
		Source:    model.SourceSpeech,
		Type:      "user_speech",
		Text:      text,
		Metadata:  metadata,
		CreatedAt: ts,
	}
	gt.NoError(t, repo.PutEvent(context.Background(), event))
	return event
}

func TestSegmentSplitsOnGap(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	e1 := putEvent(t, repo, "robot-1", "alice", base, "good morning", map[string]string{"location": "kitchen"})
	e2 := putEvent(t, repo, "robot-1", "alice", base.Add(10*time.Minute), "make coffee please", map[string]string{"location": "kitchen"})
	e3 := putEvent(t, repo, "robot-1", "alice", base.Add(50*time.Minute), "I am back", map[string]string{"location": "living room"})

	gemini := &mockGemini{generateFunc: summarizeOrExtract("[]")}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	sessions, err := uc.Segment(ctx, "robot-1", 7*24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, sessions).Length(2)

	first, second := sessions[0], sessions[1]
	gt.V(t, first.StartTime).Equal(base)
	gt.V(t, first.EndTime).Equal(base.Add(10 * time.Minute))
	gt.V(t, first.Metadata["event_count"]).Equal(2)
	gt.V(t, second.StartTime).Equal(base.Add(50 * time.Minute))
	gt.V(t, second.Metadata["event_count"]).Equal(1)
	gt.V(t, first.Summary).Equal("a short summary")

	// Session metadata records distinct locations
	gt.V(t, first.Metadata["locations"]).Equal([]string{"kitchen"})
	gt.V(t, second.Metadata["locations"]).Equal([]string{"living room"})

	// Every event got claimed by its session
	for _, pair := range []struct {
		event   *model.Event
		session *model.Session
	}{{e1, first}, {e2, first}, {e3, second}} {
		got, err := repo.GetEvent(ctx, pair.event.ID)
		gt.NoError(t, err)
		gt.V(t, got.SessionID).Equal(pair.session.ID)
	}
}

func TestSegmentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "good morning", nil)

	gemini := &mockGemini{generateFunc: summarizeOrExtract("[]")}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	first, err := uc.Segment(ctx, "robot-1", 7*24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, first).Length(1)

	second, err := uc.Segment(ctx, "robot-1", 7*24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, second).Length(0)
}

func TestSegmentPartitionsByUser(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	// Interleaved events of two users within one gap window
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "hello from alice", nil)
	putEvent(t, repo, "robot-1", "bob", base.Add(time.Minute), "hello from bob", nil)
	putEvent(t, repo, "robot-1", "alice", base.Add(2*time.Minute), "alice again", nil)

	gemini := &mockGemini{generateFunc: summarizeOrExtract("[]")}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	sessions, err := uc.Segment(ctx, "robot-1", 7*24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, sessions).Length(2)
	gt.V(t, sessions[0].UserID).Equal("alice")
	gt.V(t, sessions[1].UserID).Equal("bob")
}

func TestSegmentSummaryFailureIsolatesRun(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	aliceEvent := putEvent(t, repo, "robot-1", "alice", base, "alice says hi", nil)
	bobEvent := putEvent(t, repo, "robot-1", "bob", base, "bob says hi", nil)

	gemini := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if len(contents) > 0 && len(contents[0].Parts) > 0 && strings.Contains(contents[0].Parts[0].Text, "alice says hi") {
				return nil, errors.New("backend down")
			}
			return textResponse("bob summary"), nil
		},
	}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	sessions, err := uc.Segment(ctx, "robot-1", 7*24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, sessions).Length(1)
	gt.V(t, sessions[0].UserID).Equal("bob")

	// Alice's events stay unsessioned for the next pass
	got, err := repo.GetEvent(ctx, aliceEvent.ID)
	gt.NoError(t, err)
	gt.V(t, got.SessionID).Equal(model.SessionID(""))
	got, err = repo.GetEvent(ctx, bobEvent.ID)
	gt.NoError(t, err)
	gt.V(t, got.SessionID).Equal(sessions[0].ID)
}

func TestSegmentRequiresRobotID(t *testing.T) {
	uc := consolidate.New(repository.NewLocal(), &mockGemini{})
	_, err := uc.Segment(context.Background(), "", time.Hour)
	gt.True(t, errors.Is(err, model.ErrInvalidFilter))
}

func TestConsolidate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "I love coffee", map[string]string{"location": "kitchen"})
	putEvent(t, repo, "robot-1", "alice", base.Add(time.Minute), "my mug is red", nil)

	gemini := &mockGemini{generateFunc: summarizeOrExtract(
		`[{"subject": "alice", "predicate": "likes", "object": "coffee", "confidence": 0.8}]`)}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	profiles, err := uc.Consolidate(ctx, "robot-1", 24*time.Hour)
	gt.NoError(t, err)

	// One profile per active entity: the kitchen and alice
	gt.A(t, profiles).Length(2)
	gt.V(t, profiles[0].EntityType).Equal(model.EntityTypeLocation)
	gt.V(t, profiles[0].EntityID).Equal("kitchen")
	gt.V(t, profiles[1].EntityType).Equal(model.EntityTypeUser)
	gt.V(t, profiles[1].EntityID).Equal("alice")

	stored, err := repo.GetProfile(ctx, model.ProfileKey{
		RobotID:    "robot-1",
		EntityType: model.EntityTypeUser,
		EntityID:   "alice",
	})
	gt.NoError(t, err)
	gt.V(t, stored.Summary).Equal("a short summary")
	gt.A(t, stored.Facts).Length(1)
	gt.V(t, stored.Facts[0].Object).Equal("coffee")
	gt.V(t, stored.LastUpdated).Equal(base.Add(time.Hour))
}

func TestConsolidateMergesFacts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	key := model.ProfileKey{RobotID: "robot-1", EntityType: model.EntityTypeUser, EntityID: "alice"}
	_, err := repo.MutateProfile(ctx, key, func(p *model.Profile) error {
		p.Facts = []model.Fact{
			{Subject: "alice", Predicate: "likes", Object: "tea", Confidence: 0.9},
			{Subject: "alice", Predicate: "works at", Object: "the lab", Confidence: 0.7},
		}
		return nil
	})
	gt.NoError(t, err)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "maybe I like coffee", nil)

	// Lower confidence must not displace the established fact
	gemini := &mockGemini{generateFunc: summarizeOrExtract(
		`[{"subject": "alice", "predicate": "likes", "object": "coffee", "confidence": 0.5}]`)}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	profiles, err := uc.Consolidate(ctx, "robot-1", 24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, profiles).Length(1)

	stored, err := repo.GetProfile(ctx, key)
	gt.NoError(t, err)
	gt.A(t, stored.Facts).Length(2)
	gt.V(t, stored.Facts[0].Object).Equal("tea")
	gt.V(t, stored.Facts[0].Confidence).Equal(0.9)
	gt.V(t, stored.Facts[1].Object).Equal("the lab")
}

func TestConsolidateOverlappingWindows(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "I love coffee", nil)

	gemini := &mockGemini{generateFunc: summarizeOrExtract(
		`[{"subject": "alice", "predicate": "likes", "object": "coffee", "confidence": 0.8}]`)}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	first, err := uc.Consolidate(ctx, "robot-1", 24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, first).Length(1)

	// The same entity over an overlapping window updates the one profile,
	// never creates a second record
	second, err := uc.Consolidate(ctx, "robot-1", 48*time.Hour)
	gt.NoError(t, err)
	gt.A(t, second).Length(1)

	stored, err := repo.GetProfile(ctx, model.ProfileKey{
		RobotID:    "robot-1",
		EntityType: model.EntityTypeUser,
		EntityID:   "alice",
	})
	gt.NoError(t, err)
	gt.A(t, stored.Facts).Length(1)
	gt.V(t, stored.CreatedAt).Equal(first[0].CreatedAt)
}

func TestConsolidateDropsMalformedFacts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "I love coffee", nil)

	gemini := &mockGemini{generateFunc: summarizeOrExtract(
		`[{"subject": "alice", "predicate": "likes", "object": "coffee", "confidence": 1.5},
		  {"subject": "alice", "predicate": "owns", "object": "red mug", "confidence": 0.6}]`)}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	profiles, err := uc.Consolidate(ctx, "robot-1", 24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, profiles).Length(1)
	gt.A(t, profiles[0].Facts).Length(1)
	gt.V(t, profiles[0].Facts[0].Object).Equal("red mug")
}

func TestConsolidateEntityFailureIsolated(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "alice talks", nil)
	putEvent(t, repo, "robot-1", "bob", base, "bob talks", nil)

	gemini := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if len(contents) > 0 && len(contents[0].Parts) > 0 && strings.Contains(contents[0].Parts[0].Text, "alice talks") {
				return nil, errors.New("backend down")
			}
			if config != nil && config.ResponseMIMEType == "application/json" {
				return textResponse("[]"), nil
			}
			return textResponse("a short summary"), nil
		},
	}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	profiles, err := uc.Consolidate(ctx, "robot-1", 24*time.Hour)
	gt.NoError(t, err)
	gt.A(t, profiles).Length(1)
	gt.V(t, profiles[0].EntityID).Equal("bob")

	// The failed entity has no profile yet
	_, err = repo.GetProfile(ctx, model.ProfileKey{
		RobotID:    "robot-1",
		EntityType: model.EntityTypeUser,
		EntityID:   "alice",
	})
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

func TestGetProfileLazyBuild(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	putEvent(t, repo, "robot-1", "alice", base, "I love coffee", nil)

	gemini := &mockGemini{generateFunc: summarizeOrExtract(
		`[{"subject": "alice", "predicate": "likes", "object": "coffee", "confidence": 0.8}]`)}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base.Add(time.Hour) }))

	key := model.ProfileKey{RobotID: "robot-1", EntityType: model.EntityTypeUser, EntityID: "alice"}
	profile, err := uc.GetProfile(ctx, key)
	gt.NoError(t, err)
	gt.V(t, profile.Summary).Equal("a short summary")
	gt.A(t, profile.Facts).Length(1)

	// The lazily built profile is persisted
	stored, err := repo.GetProfile(ctx, key)
	gt.NoError(t, err)
	gt.V(t, stored.Summary).Equal("a short summary")
}

func TestGetProfileWithoutEvents(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewLocal()

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	gemini := &mockGemini{}
	uc := consolidate.New(repo, gemini,
		consolidate.WithNow(func() time.Time { return base }))

	key := model.ProfileKey{RobotID: "robot-1", EntityType: model.EntityTypeUser, EntityID: "stranger"}
	profile, err := uc.GetProfile(ctx, key)
	gt.NoError(t, err)
	gt.V(t, profile.EntityID).Equal("stranger")
	gt.V(t, profile.Summary).Equal("")
	gt.A(t, profile.Facts).Length(0)
	gt.V(t, profile.LastUpdated).Equal(base)
	gt.V(t, gemini.generateCalls).Equal(0)

	// The stub is not persisted
	_, err = repo.GetProfile(ctx, key)
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

func TestGetProfileInvalidKey(t *testing.T) {
	uc := consolidate.New(repository.NewLocal(), &mockGemini{})
	_, err := uc.GetProfile(context.Background(), model.ProfileKey{})
	gt.Error(t, err)
}
