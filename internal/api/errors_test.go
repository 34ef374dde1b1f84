package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"string message", 400, `{"message":"Ticket not found"}`, "Ticket not found"},
		{"validation list", 400, `{"message":["title should not be empty","priority must be a number"]}`, "title should not be empty; priority must be a number"},
		{"error label", 403, `{"error":"Forbidden"}`, "Forbidden"},
		{"empty message falls back", 409, `{"message":""}`, "Conflict"},
		{"html body", 502, `<html>bad gateway</html>`, "Bad Gateway"},
		{"unknown status", 599, ``, "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage(tt.status, []byte(tt.body)))
		})
	}
}

func TestRequestError_IsUnauthorized(t *testing.T) {
	assert.ErrorIs(t, &RequestError{Status: http.StatusUnauthorized}, ErrUnauthorized)
	assert.NotErrorIs(t, &RequestError{Status: http.StatusForbidden}, ErrUnauthorized)
}

func TestIsAuthPath(t *testing.T) {
	assert.True(t, isAuthPath("/auth/login"))
	assert.True(t, isAuthPath("/auth/refresh"))
	assert.False(t, isAuthPath("/authors"))
	assert.False(t, isAuthPath("/notifications"))
}
