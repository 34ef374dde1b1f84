package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

type LogoutCmd struct {
	flags *Flags
}

// NewLogoutCmd creates a new logout command
func NewLogoutCmd(flags *Flags) *LogoutCmd {
	return &LogoutCmd{flags: flags}
}

// Register adds the logout command to the application
func (cmd *LogoutCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "logout",
		Usage:     "Remove the saved session",
		UsageText: "ticketdesk logout",
		Action:    cmd.run,
	})

	return app
}

func (cmd *LogoutCmd) run(ctx context.Context, c *cli.Command) error {
	rt, err := open(cmd.flags)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.session.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	fmt.Fprintln(c.Root().Writer, "Signed out")
	return nil
}
