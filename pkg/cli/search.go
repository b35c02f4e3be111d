package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/interfaces"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func searchCommand() *cli.Command {
	var (
		cfg       config
		query     string
		robotID   string
		userID    string
		sessionID string
		sources   []string
		types     []string
		since     string
		until     string
		limit     int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural language query",
			Required:    true,
			Destination: &query,
		},
		&cli.StringFlag{
			Name:        "robot-id",
			Aliases:     []string{"r"},
			Usage:       "Robot identifier",
			Required:    true,
			Sources:     cli.EnvVars("KIOKU_ROBOT_ID"),
			Destination: &robotID,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "Restrict to events of one user",
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "session-id",
			Usage:       "Restrict to members of one session",
			Destination: &sessionID,
		},
		&cli.StringSliceFlag{
			Name:        "source",
			Usage:       "Restrict to event sources (speech, vision, system, action)",
			Destination: &sources,
		},
		&cli.StringSliceFlag{
			Name:        "type",
			Usage:       "Restrict to event types",
			Destination: &types,
		},
		&cli.StringFlag{
			Name:        "since",
			Usage:       "Start of time range (RFC3339)",
			Destination: &since,
		},
		&cli.StringFlag{
			Name:        "until",
			Usage:       "End of time range (RFC3339)",
			Destination: &until,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of events to return",
			Value:       10,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Search events by semantic similarity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			filter := interfaces.EventQuery{
				RobotID:   robotID,
				UserID:    userID,
				SessionID: model.SessionID(sessionID),
			}
			for _, s := range sources {
				filter.Sources = append(filter.Sources, model.Source(s))
			}
			filter.Types = types

			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return goerr.Wrap(err, "invalid since timestamp", goerr.V("since", since))
				}
				filter.TimeFrom = t
			}
			if until != "" {
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return goerr.Wrap(err, "invalid until timestamp", goerr.V("until", until))
				}
				filter.TimeTo = t
			}

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			results, err := uc.Search(ctx, memory.SearchInput{
				Query:  query,
				Filter: filter,
				Limit:  int(limit),
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Fprintf(c.Root().Writer, "No matching events found\n")
				return nil
			}

			for i, r := range results {
				fmt.Fprintf(c.Root().Writer, "%d. %s (distance=%.4f)\n", i+1, r.Event.ID, r.Distance)
				fmt.Fprintf(c.Root().Writer, "   [%s] %s: %s\n", r.Event.Timestamp.Format(time.RFC3339), r.Event.Type, r.Event.Text)
			}
			return nil
		},
	}
}
