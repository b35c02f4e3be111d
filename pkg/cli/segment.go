package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/kioku/pkg/usecase/consolidate"
	"github.com/urfave/cli/v3"
)

func segmentCommand() *cli.Command {
	var (
		cfg      config
		robotID  string
		lookback time.Duration
		gap      time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "robot-id",
			Aliases:     []string{"r"},
			Usage:       "Robot identifier",
			Required:    true,
			Sources:     cli.EnvVars("KIOKU_ROBOT_ID"),
			Destination: &robotID,
		},
		&cli.DurationFlag{
			Name:        "lookback",
			Usage:       "How far back to look for unassigned events",
			Value:       7 * 24 * time.Hour,
			Destination: &lookback,
		},
		&cli.DurationFlag{
			Name:        "gap",
			Usage:       "Inactivity gap that closes a session",
			Value:       30 * time.Minute,
			Destination: &gap,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "segment",
		Usage: "Group unassigned events into sessions",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			uc, err := cfg.newConsolidateUseCase(ctx, consolidate.WithGapThreshold(gap))
			if err != nil {
				return err
			}

			sessions, err := uc.Segment(ctx, robotID, lookback)
			if err != nil {
				return err
			}

			if len(sessions) == 0 {
				fmt.Fprintf(c.Root().Writer, "No unassigned events found\n")
				return nil
			}

			for _, session := range sessions {
				fmt.Fprintf(c.Root().Writer, "Session %s: %s - %s (%v events)\n",
					session.ID,
					session.StartTime.Format(time.RFC3339),
					session.EndTime.Format(time.RFC3339),
					session.Metadata["event_count"])
				if session.Summary != "" {
					fmt.Fprintf(c.Root().Writer, "  %s\n", session.Summary)
				}
			}
			return nil
		},
	}
}
