package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

func consolidateCommand() *cli.Command {
	var (
		cfg     config
		robotID string
		window  time.Duration
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
			Name:        "window",
			Usage:       "How far back to look for recently active entities",
			Value:       24 * time.Hour,
			Destination: &window,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "consolidate",
		Usage: "Rebuild profiles of recently active entities",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			uc, err := cfg.newConsolidateUseCase(ctx)
			if err != nil {
				return err
			}

			profiles, err := uc.Consolidate(ctx, robotID, window)
			if err != nil {
				return err
			}

			if len(profiles) == 0 {
				fmt.Fprintf(c.Root().Writer, "No recently active entities\n")
				return nil
			}

			for _, profile := range profiles {
				fmt.Fprintf(c.Root().Writer, "Updated %s/%s (%d facts)\n",
					profile.EntityType, profile.EntityID, len(profile.Facts))
			}
			return nil
		},
	}
}
