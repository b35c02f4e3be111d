package consolidate

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/extract_facts.md
var extractFactsPromptRaw string

// Consolidate folds the recent evidence of every entity active in the
// window into its profile. The summary is replaced wholesale; facts are
// merged with last-confident-write-wins semantics. A failure for one entity
// does not block the others, and each profile commits independently, so an
// interrupted batch never corrupts the next run.
func (u *UseCase) Consolidate(ctx context.Context, robotID string, window time.Duration) ([]*model.Profile, error) {
	if robotID == "" {
		return nil, goerr.Wrap(model.ErrInvalidFilter, "robot_id is required")
	}

	events, err := u.repo.ListEvents(ctx, interfaces.EventQuery{
		RobotID:  robotID,
		TimeFrom: u.now().Add(-window),
	})
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx)

	var profiles []*model.Profile
	for _, key := range activeEntities(robotID, events) {
		profile, err := u.consolidateEntity(ctx, key)
		if err != nil {
			logger.Warn("failed to consolidate entity, skipping this cycle",
				"robot_id", key.RobotID, "entity_type", key.EntityType, "entity_id", key.EntityID, "error", err)
			continue
		}
		profiles = append(profiles, profile)
	}

	logger.Info("consolidation finished", "robot_id", robotID, "profiles", len(profiles))
	return profiles, nil
}

// activeEntities derives the distinct entities mentioned by the events:
// users from user_id, locations and objects from event metadata. The result
// is sorted for deterministic processing order.
func activeEntities(robotID string, events []*model.Event) []model.ProfileKey {
	seen := make(map[model.ProfileKey]bool)
	for _, event := range events {
		if event.UserID != "" {
			seen[model.ProfileKey{RobotID: robotID, EntityType: model.EntityTypeUser, EntityID: event.UserID}] = true
		}
		if loc := event.Metadata["location"]; loc != "" {
			seen[model.ProfileKey{RobotID: robotID, EntityType: model.EntityTypeLocation, EntityID: loc}] = true
		}
		if obj := event.Metadata["object"]; obj != "" {
			seen[model.ProfileKey{RobotID: robotID, EntityType: model.EntityTypeObject, EntityID: obj}] = true
		}
	}

	keys := make([]model.ProfileKey, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EntityType != keys[j].EntityType {
			return keys[i].EntityType < keys[j].EntityType
		}
		return keys[i].EntityID < keys[j].EntityID
	})
	return keys
}

// entityQuery restricts events to those mentioning the entity
func entityQuery(key model.ProfileKey) interfaces.EventQuery {
	query := interfaces.EventQuery{RobotID: key.RobotID}
	switch key.EntityType {
	case model.EntityTypeUser:
		query.UserID = key.EntityID
	case model.EntityTypeLocation:
		query.Metadata = map[string]string{"location": key.EntityID}
	case model.EntityTypeObject:
		query.Metadata = map[string]string{"object": key.EntityID}
	}
	return query
}

// consolidateEntity regenerates the entity's summary and facts from its most
// recent textual events and merges them into the profile atomically.
func (u *UseCase) consolidateEntity(ctx context.Context, key model.ProfileKey) (*model.Profile, error) {
	query := entityQuery(key)
	query.RequireText = true
	query.Descending = true
	query.Limit = u.recentEventCap

	events, err := u.repo.ListEvents(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, goerr.Wrap(model.ErrNotFound, "no textual events for entity",
			goerr.V("entity_type", key.EntityType), goerr.V("entity_id", key.EntityID))
	}

	summary, err := u.summarizeEvents(ctx, events)
	if err != nil {
		return nil, err
	}

	facts, err := u.extractFacts(ctx, key.EntityID, events)
	if err != nil {
		return nil, err
	}

	runTime := u.now()
	return u.repo.MutateProfile(ctx, key, func(profile *model.Profile) error {
		profile.Summary = summary
		profile.Facts = model.MergeFacts(profile.Facts, facts)
		profile.LastUpdated = runTime
		return nil
	})
}

// extractFacts asks the generative backend for confidence-weighted facts
// about the entity. Malformed facts are dropped, not fatal.
func (u *UseCase) extractFacts(ctx context.Context, entityID string, events []*model.Event) ([]model.Fact, error) {
	var lines []string
	for _, event := range events {
		if event.Text != "" {
			lines = append(lines, event.Text)
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(extractFactsPromptRaw, entityID, strings.Join(lines, "\n"))

	temperature := float32(0.2)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You extract structured facts from text.", ""),
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"subject":    {Type: genai.TypeString},
					"predicate":  {Type: genai.TypeString},
					"object":     {Type: genai.TypeString},
					"confidence": {Type: genai.TypeNumber},
				},
				Required: []string{"subject", "predicate", "object", "confidence"},
			},
		},
	}

	resp, err := u.gemini.GenerateContent(ctx, genai.Text(prompt), config)
	if err != nil {
		return nil, goerr.Wrap(model.ErrGenerationUnavailable, "failed to extract facts", goerr.V("cause", err))
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, goerr.Wrap(model.ErrGenerationUnavailable, "no facts generated", goerr.V("cause", err))
	}

	var extracted []model.Fact
	if err := json.Unmarshal([]byte(text), &extracted); err != nil {
		return nil, goerr.Wrap(model.ErrGenerationUnavailable, "failed to parse facts", goerr.V("response", text))
	}

	logger := logging.From(ctx)
	facts := extracted[:0]
	for _, fact := range extracted {
		if err := fact.Validate(); err != nil {
			logger.Warn("dropping malformed fact", "error", err)
			continue
		}
		facts = append(facts, fact)
	}
	return facts, nil
}
