package consolidate

import (
	"context"
	_ "embed"
	"errors"
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

//go:embed prompt/session_summary.md
var sessionSummaryPromptRaw string

// Segment groups the robot's unsessioned events of the lookback window into
// bounded interaction runs and persists one summarized session per run.
//
// The clustering is single-pass greedy: events are partitioned by user,
// ordered by timestamp, and a run ends as soon as the gap to the next event
// exceeds the gap threshold. Already sessioned events are never revisited, so
// re-running over the same window is idempotent. A summary failure leaves
// that run's events unsessioned for the next pass without affecting the
// other runs.
func (u *UseCase) Segment(ctx context.Context, robotID string, lookback time.Duration) ([]*model.Session, error) {
	if robotID == "" {
		return nil, goerr.Wrap(model.ErrInvalidFilter, "robot_id is required")
	}

	events, err := u.repo.ListEvents(ctx, interfaces.EventQuery{
		RobotID:        robotID,
		WithoutSession: true,
		TimeFrom:       u.now().Add(-lookback),
	})
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx)

	var sessions []*model.Session
	for _, run := range splitRuns(events, u.gapThreshold) {
		session, err := u.sessionize(ctx, robotID, run)
		if err != nil {
			logger.Warn("failed to build session, events stay unsessioned",
				"robot_id", robotID, "events", len(run), "error", err)
			continue
		}
		sessions = append(sessions, session)
	}

	logger.Info("segmentation finished",
		"robot_id", robotID, "events", len(events), "sessions", len(sessions))
	return sessions, nil
}

// splitRuns partitions events by user and splits each partition wherever the
// gap between consecutive timestamps exceeds the threshold. Events must be
// ordered by ascending timestamp.
func splitRuns(events []*model.Event, gap time.Duration) [][]*model.Event {
	byUser := make(map[string][]*model.Event)
	for _, event := range events {
		byUser[event.UserID] = append(byUser[event.UserID], event)
	}

	users := make([]string, 0, len(byUser))
	for user := range byUser {
		users = append(users, user)
	}
	sort.Strings(users)

	var runs [][]*model.Event
	for _, user := range users {
		partition := byUser[user]

		var run []*model.Event
		for _, event := range partition {
			if len(run) > 0 && event.Timestamp.Sub(run[len(run)-1].Timestamp) > gap {
				runs = append(runs, run)
				run = nil
			}
			run = append(run, event)
		}
		if len(run) > 0 {
			runs = append(runs, run)
		}
	}
	return runs
}

// sessionize turns one run into a persisted session and claims every member
// event. The summary is generated before anything is written, so a
// generation failure commits nothing.
func (u *UseCase) sessionize(ctx context.Context, robotID string, run []*model.Event) (*model.Session, error) {
	summary, err := u.summarizeEvents(ctx, run)
	if err != nil {
		return nil, err
	}

	locations := map[string]bool{}
	for _, event := range run {
		if loc := event.Metadata["location"]; loc != "" {
			locations[loc] = true
		}
	}
	locationList := make([]string, 0, len(locations))
	for loc := range locations {
		locationList = append(locationList, loc)
	}
	sort.Strings(locationList)

	session := &model.Session{
		ID:        model.NewSessionID(),
		RobotID:   robotID,
		UserID:    run[0].UserID,
		StartTime: run[0].Timestamp,
		EndTime:   run[len(run)-1].Timestamp,
		Summary:   summary,
		Metadata: map[string]any{
			"locations":   locationList,
			"event_count": len(run),
		},
		CreatedAt: u.now(),
	}

	if err := u.repo.PutSession(ctx, session); err != nil {
		return nil, err
	}

	logger := logging.From(ctx)
	for _, event := range run {
		if err := u.repo.ClaimSession(ctx, event.ID, session.ID); err != nil {
			if errors.Is(err, model.ErrConflictingUpdate) {
				logger.Warn("event claimed by a concurrent run, skipping",
					"event_id", event.ID, "session_id", session.ID)
				continue
			}
			return nil, err
		}
	}

	return session, nil
}

// summarizeEvents asks the generative backend for a short summary of the
// run's textual events. Runs without any text get an empty summary without a
// backend call.
func (u *UseCase) summarizeEvents(ctx context.Context, run []*model.Event) (string, error) {
	var lines []string
	for _, event := range run {
		if event.Text != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", event.Type, event.Text))
		}
	}
	if len(lines) == 0 {
		return "", nil
	}

	prompt := fmt.Sprintf(sessionSummaryPromptRaw, strings.Join(lines, "\n"))

	temperature := float32(0.3)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You are an assistant that summarizes robot interactions.", ""),
		Temperature:       &temperature,
	}

	resp, err := u.gemini.GenerateContent(ctx, genai.Text(prompt), config)
	if err != nil {
		return "", goerr.Wrap(model.ErrGenerationUnavailable, "failed to summarize session", goerr.V("cause", err))
	}

	summary, err := responseText(resp)
	if err != nil {
		return "", goerr.Wrap(model.ErrGenerationUnavailable, "no summary generated", goerr.V("cause", err))
	}
	return summary, nil
}
