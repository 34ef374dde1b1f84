package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/model"
)

const loginPath = "/auth/login"

// ErrInvalidCredentials is returned by Login when the server rejects the
// email and password.
var ErrInvalidCredentials = errors.New("invalid email or password")

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         model.User `json:"user"`
}

// Login exchanges email and password for a credential pair, stores the
// pair and returns the authenticated user.
func (c *Client) Login(
	ctx context.Context,
	email string,
	password string,
) (*model.User, error) {
	var resp loginResponse
	err := c.Do(ctx, http.MethodPost, loginPath, loginRequest{
		Email:    email,
		Password: password,
	}, &resp)
	if err != nil {
		if reqErr, ok := asRequestError(err); ok && reqErr.Status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, reqErr.Message)
		}
		return nil, fmt.Errorf("logging in: %w", err)
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return nil, errors.New("logging in: server returned no tokens")
	}

	if err := c.creds.Set(credential.Pair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}); err != nil {
		return nil, fmt.Errorf("storing credentials: %w", err)
	}

	c.logger.Info().Str("user", resp.User.ID.String()).Msg("logged in")
	return &resp.User, nil
}
