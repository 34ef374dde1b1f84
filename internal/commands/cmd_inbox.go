package commands

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/nhle/ticketdesk/internal/app"
	"github.com/nhle/ticketdesk/internal/logging"
	"github.com/nhle/ticketdesk/internal/session"
)

type InboxCmd struct {
	flags *Flags
}

// NewInboxCmd creates a new inbox command
func NewInboxCmd(flags *Flags) *InboxCmd {
	return &InboxCmd{flags: flags}
}

// Register adds the inbox command to the application
func (cmd *InboxCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "inbox",
		Usage:     "Open the interactive notification inbox",
		UsageText: "ticketdesk inbox",
		Description: `Opens the terminal inbox. A saved session is resumed; otherwise the
sign-in form is shown first.`,
		Action: cmd.run,
	})

	return app
}

// Run executes the inbox. Exported for use as default command.
func (cmd *InboxCmd) Run(ctx context.Context, c *cli.Command) error {
	return cmd.run(ctx, c)
}

func (cmd *InboxCmd) run(ctx context.Context, _ *cli.Command) error {
	// The terminal belongs to the UI; keep logs off stderr.
	if cmd.flags.LogFile == "" && cmd.flags.Config != nil {
		file := filepath.Join(filepath.Dir(cmd.flags.Config.Storage.CachePath), "ticketdesk.log")
		logger, closer, err := logging.New(cmd.flags.LogLevel, file)
		if err != nil {
			return fmt.Errorf("setup logger: %w", err)
		}
		defer closer()
		logging.SetDefault(logger)
		cmd.flags.Logger = logger
	}

	bridge := app.NewBridge()
	rt, err := open(cmd.flags, session.OnLoginRequired(bridge.LoginRequired))
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.session.Resume(ctx); err != nil {
		cmd.flags.Logger.Warn().Err(err).Msg("could not resume saved session")
	}

	p := tea.NewProgram(app.New(rt.session, bridge), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running inbox: %w", err)
	}
	return nil
}
