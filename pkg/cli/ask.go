package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg         config
		robotID     string
		userID      string
		maxEvidence int64
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
			Name:        "user-id",
			Aliases:     []string{"u"},
			Usage:       "Restrict evidence to events of one user",
			Destination: &userID,
		},
		&cli.IntFlag{
			Name:        "max-evidence",
			Usage:       "Maximum number of evidence events",
			Destination: &maxEvidence,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question from stored memories",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			if c.Args().Len() == 0 {
				return goerr.New("question is required")
			}
			question := c.Args().First()

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			s.Suffix = " Recalling..."
			s.Start()
			answer, err := uc.Answer(ctx, memory.AnswerInput{
				Question:    question,
				RobotID:     robotID,
				UserID:      userID,
				MaxEvidence: int(maxEvidence),
			})
			s.Stop()
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", answer.Answer)
			fmt.Fprintf(c.Root().Writer, "(confidence: %.2f)\n", answer.Confidence)

			if len(answer.Evidence) > 0 {
				fmt.Fprintf(c.Root().Writer, "\nEvidence:\n")
				for i, ev := range answer.Evidence {
					fmt.Fprintf(c.Root().Writer, "%d. [%s] %s: %s\n", i+1, ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Text)
				}
			}
			return nil
		},
	}
}
