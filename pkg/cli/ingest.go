package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/urfave/cli/v3"
)

// eventInput is the JSON shape accepted by the ingest command
type eventInput struct {
	RobotID   string            `json:"robot_id"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	Text      string            `json:"text,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func ingestCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to JSON file containing the event ('-' for stdin)",
			Value:       "-",
			Destination: &input,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "ingest",
		Usage: "Ingest an observation or action event",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			var reader io.Reader = os.Stdin
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return goerr.Wrap(err, "failed to open input file", goerr.V("path", input))
				}
				defer f.Close()
				reader = f
			}

			var in eventInput
			if err := json.NewDecoder(reader).Decode(&in); err != nil {
				return goerr.Wrap(err, "failed to decode event JSON")
			}

			uc, err := cfg.newMemoryUseCase(ctx)
			if err != nil {
				return err
			}

			event := &model.Event{
				RobotID:   in.RobotID,
				UserID:    in.UserID,
				Timestamp: in.Timestamp,
				Source:    model.Source(in.Source),
				Type:      in.Type,
				Text:      in.Text,
				Metadata:  in.Metadata,
			}

			id, err := uc.Ingest(ctx, event)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Ingested event %s\n", id)
			return nil
		},
	}
}
