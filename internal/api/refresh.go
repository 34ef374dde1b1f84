package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/metrics"
)

const refreshPath = "/auth/refresh"

// refreshKey is the single-flight key. There is one refresh token per
// session, so all refreshes share it.
const refreshKey = "refresh"

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// refresh makes sure the access token that was rejected as stale has been
// replaced. Concurrent callers share one in-flight refresh call and all
// observe its outcome. A caller whose stale token was already replaced
// returns immediately and retries with the current token.
func (c *Client) refresh(ctx context.Context, stale string) error {
	if current, ok := c.creds.Get(); !ok {
		return ErrSessionExpired
	} else if current.AccessToken != stale {
		return nil
	}

	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return nil, c.doRefresh(stale)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doRefresh runs inside the single flight. It is not bound to any one
// caller's context, since every waiter depends on its result.
func (c *Client) doRefresh(stale string) error {
	pair, ok := c.creds.Get()
	if !ok {
		return ErrSessionExpired
	}
	if pair.AccessToken != stale {
		// A previous flight already replaced the token.
		return nil
	}
	gen := c.creds.Generation()

	payload, err := json.Marshal(refreshRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		return fmt.Errorf("marshaling refresh request: %w", err)
	}

	status, body, err := c.send(context.Background(), http.MethodPost, refreshPath, payload, "")
	if err != nil {
		c.metrics.RecordRefresh(metrics.RefreshFailed)
		c.logger.Warn().Err(err).Msg("token refresh transport error")
		return fmt.Errorf("refreshing session: %w", err)
	}

	var tokens refreshResponse
	if status >= 200 && status < 300 {
		if err := json.Unmarshal(body, &tokens); err != nil || tokens.AccessToken == "" {
			c.logger.Warn().Err(err).Msg("token refresh returned an unusable body")
			status = http.StatusBadGateway
		}
	}

	if status < 200 || status >= 300 {
		c.metrics.RecordRefresh(metrics.RefreshExpired)
		c.expireSession(gen, status)
		return ErrSessionExpired
	}

	if tokens.RefreshToken == "" {
		tokens.RefreshToken = pair.RefreshToken
	}

	replaced, err := c.creds.SetIf(gen, credential.Pair{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
	if err != nil {
		c.metrics.RecordRefresh(metrics.RefreshFailed)
		return fmt.Errorf("storing refreshed credentials: %w", err)
	}
	if !replaced {
		// Logged out (or logged in again) while the call was in flight.
		c.metrics.RecordRefresh(metrics.RefreshDiscarded)
		c.logger.Debug().Msg("discarding refresh result for ended session")
		return ErrSessionExpired
	}

	c.metrics.RecordRefresh(metrics.RefreshSucceeded)
	c.logger.Debug().Msg("access token refreshed")
	return nil
}

// expireSession clears the credentials of generation gen and fires the
// session-expired handler. Nothing happens if the session already ended.
func (c *Client) expireSession(gen uint64, status int) {
	cleared, err := c.creds.ClearIf(gen)
	if err != nil {
		c.logger.Error().Err(err).Msg("clearing credentials after failed refresh")
	}
	if !cleared {
		return
	}

	c.logger.Info().Int("status", status).Msg("session expired")
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}
