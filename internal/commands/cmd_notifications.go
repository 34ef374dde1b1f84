package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/nhle/ticketdesk/internal/model"
)

type NotificationsCmd struct {
	flags *Flags

	// flags
	jsonOutput bool
	unreadOnly bool
}

// NewNotificationsCmd creates a new notifications command
func NewNotificationsCmd(flags *Flags) *NotificationsCmd {
	return &NotificationsCmd{flags: flags}
}

// Register adds the notifications command to the application
func (cmd *NotificationsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "notifications",
		Aliases:   []string{"ls"},
		Usage:     "List notifications",
		UsageText: "ticketdesk notifications [--unread] [--json]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &cmd.jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "unread",
				Aliases:     []string{"u"},
				Usage:       "only show unread notifications",
				Destination: &cmd.unreadOnly,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *NotificationsCmd) run(ctx context.Context, c *cli.Command) error {
	rt, err := open(cmd.flags)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.resume(ctx); err != nil {
		return err
	}
	if err := rt.session.Notifications().Refresh(ctx); err != nil {
		return fmt.Errorf("fetching notifications: %w", err)
	}

	st := rt.session.Notifications().State()
	items := make([]model.Notification, 0, len(st.Items))
	for _, n := range st.Items {
		if cmd.unreadOnly && n.IsRead {
			continue
		}
		items = append(items, n)
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		enc := json.NewEncoder(out)
		for _, n := range items {
			if err := enc.Encode(n); err != nil {
				return fmt.Errorf("encode notification: %w", err)
			}
		}
		return nil
	}

	fmt.Fprintf(out, "%d unread, %d tickets with unread activity\n\n", st.UnreadCount, len(st.UnreadTickets))
	if len(items) == 0 {
		fmt.Fprintln(out, "No notifications")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tTICKET\tTITLE")
	for _, n := range items {
		state := "read"
		if !n.IsRead {
			state = "unread"
		}
		ticket := "-"
		if n.Data.TicketID != "" {
			ticket = "#" + n.Data.TicketID.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, state, ticket, n.Title())
	}
	return w.Flush()
}
