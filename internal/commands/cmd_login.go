package commands

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
)

type LoginCmd struct {
	flags *Flags

	// flags
	email    string
	password string
}

// NewLoginCmd creates a new login command
func NewLoginCmd(flags *Flags) *LoginCmd {
	return &LoginCmd{flags: flags}
}

// Register adds the login command to the application
func (cmd *LoginCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "login",
		Usage:     "Sign in and save the session",
		UsageText: "ticketdesk login [--email EMAIL] [--password PASSWORD]",
		Description: `Signs in to the helpdesk and stores the token pair in the system keyring.

Missing values are prompted for interactively.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Usage:       "account email",
				Sources:     cli.EnvVars("TICKETDESK_EMAIL"),
				Destination: &cmd.email,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "account password",
				Sources:     cli.EnvVars("TICKETDESK_PASSWORD"),
				Destination: &cmd.password,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LoginCmd) run(ctx context.Context, c *cli.Command) error {
	if err := cmd.prompt(); err != nil {
		return err
	}

	rt, err := open(cmd.flags)
	if err != nil {
		return err
	}
	defer rt.close()

	user, err := rt.session.Login(ctx, cmd.email, cmd.password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	fmt.Fprintf(c.Root().Writer, "Signed in as %s (%s), %d unread\n",
		user.Name, user.Email, rt.session.Notifications().UnreadCount())
	return nil
}

func (cmd *LoginCmd) prompt() error {
	var fields []huh.Field
	if cmd.email == "" {
		fields = append(fields, huh.NewInput().Title("Email").Value(&cmd.email))
	}
	if cmd.password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&cmd.password))
	}
	if len(fields) == 0 {
		return nil
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return fmt.Errorf("reading credentials: %w", err)
	}
	return nil
}
