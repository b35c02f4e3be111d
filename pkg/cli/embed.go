package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func embedCommand() *cli.Command {
	var (
		cfg     config
		robotID string
		limit   int64
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
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of events to embed (0 for all pending)",
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "embed",
		Usage: "Backfill embeddings for events that are missing them",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			done, err := uc.BackfillEmbeddings(ctx, robotID, int(limit))
			if done > 0 {
				fmt.Fprintf(c.Root().Writer, "Embedded %d events\n", done)
			}
			if err != nil {
				return err
			}
			if done == 0 {
				fmt.Fprintf(c.Root().Writer, "No events pending embedding\n")
			}
			return nil
		},
	}
}
