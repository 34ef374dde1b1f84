package api_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketdesk/internal/api"
)

func TestUpload(t *testing.T) {
	h := newHelpdesk(t)
	c, _ := loggedIn(t, h)

	var out struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
	}
	err := c.Upload(context.Background(), "/attachments", "file", "log.txt", strings.NewReader("contents"), &out)
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "log.txt", out.Filename)
}

func TestUpload_UnauthorizedIsNotRefreshed(t *testing.T) {
	h := newHelpdesk(t)
	c, creds := loggedIn(t, h)
	h.ExpireAccessTokens()

	err := c.Upload(context.Background(), "/attachments", "file", "log.txt", strings.NewReader("contents"), nil)

	var upErr *api.UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	assert.True(t, errors.Is(err, api.ErrUnauthorized))
	assert.Zero(t, h.RefreshCalls())

	_, ok := creds.Get()
	assert.True(t, ok, "an upload failure never clears credentials")
}
