package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/urfave/cli/v3"
)

func profileCommand() *cli.Command {
	var (
		cfg        config
		robotID    string
		entityType string
		entityID   string
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
		&cli.StringFlag{
			Name:        "entity-type",
			Aliases:     []string{"t"},
			Usage:       "Entity type (user, location, object)",
			Value:       "user",
			Destination: &entityType,
		},
		&cli.StringFlag{
			Name:        "entity-id",
			Aliases:     []string{"e"},
			Usage:       "Entity identifier",
			Required:    true,
			Destination: &entityID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "profile",
		Usage: "Show the consolidated profile of an entity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			uc, err := cfg.newConsolidateUseCase(ctx)
			if err != nil {
				return err
			}

			profile, err := uc.GetProfile(ctx, model.ProfileKey{
				RobotID:    robotID,
				EntityType: model.EntityType(entityType),
				EntityID:   entityID,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Profile: %s/%s\n", profile.EntityType, profile.EntityID)
			fmt.Fprintf(c.Root().Writer, "Last updated: %s\n", profile.LastUpdated.Format(time.RFC3339))
			if profile.Summary != "" {
				fmt.Fprintf(c.Root().Writer, "\n%s\n", profile.Summary)
			}
			if len(profile.Facts) > 0 {
				fmt.Fprintf(c.Root().Writer, "\nFacts:\n")
				for _, fact := range profile.Facts {
					fmt.Fprintf(c.Root().Writer, "- %s %s %s (%.2f)\n", fact.Subject, fact.Predicate, fact.Object, fact.Confidence)
				}
			}
			return nil
		},
	}
}
