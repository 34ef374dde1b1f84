package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/cli/v3"

	"github.com/nhle/ticketdesk/internal/events"
	"github.com/nhle/ticketdesk/internal/push"
)

type WatchCmd struct {
	flags *Flags

	// flags
	metricsAddr string
	tickets     []string
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Stream push events until interrupted",
		UsageText: "ticketdesk watch [--ticket ID]... [--metrics-addr ADDR]",
		Description: `Connects the push channel and prints every inbound event as a line of
JSON. Tickets passed with --ticket are joined on every (re)connect.

With --metrics-addr, Prometheus metrics are served on /metrics.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve Prometheus metrics on this address (e.g., :9090)",
				Sources:     cli.EnvVars("TICKETDESK_METRICS_ADDR"),
				Destination: &cmd.metricsAddr,
			},
			&cli.StringSliceFlag{
				Name:        "ticket",
				Aliases:     []string{"t"},
				Usage:       "ticket to join",
				Destination: &cmd.tickets,
			},
		},
		Action: cmd.run,
	})

	return app
}

type watchLine struct {
	Time  time.Time       `json:"time"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	rt, err := open(cmd.flags)
	if err != nil {
		return err
	}
	defer rt.close()

	if cmd.metricsAddr != "" {
		srv := &http.Server{Addr: cmd.metricsAddr, Handler: metricsMux(rt.metrics.Handler())}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cmd.flags.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		cmd.flags.Logger.Info().Str("addr", cmd.metricsAddr).Msg("serving metrics")
	}

	var mu sync.Mutex
	enc := json.NewEncoder(c.Root().Writer)
	for _, event := range events.Inbound {
		rt.session.Events().Subscribe(event, func(payload json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(watchLine{Time: time.Now().UTC(), Event: event, Data: payload})
		})
	}

	m := rt.session.Push()
	m.OnStatusChange(func(s push.Status) {
		cmd.flags.Logger.Info().Str("status", s.String()).Str("transport", m.Transport()).Msg("push status")
		if s != push.Connected {
			return
		}
		for _, id := range cmd.tickets {
			m.JoinRoom(id)
		}
	})

	if err := rt.resume(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func metricsMux(h http.Handler) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", h).Methods(http.MethodGet)
	return r
}
