package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "kioku",
		Usage: "Semantic memory layer for robots and agents",
		Commands: []*cli.Command{
			ingestCommand(),
			embedCommand(),
			searchCommand(),
			askCommand(),
			profileCommand(),
			segmentCommand(),
			consolidateCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
