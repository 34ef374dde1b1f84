package testutil

import (
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/ticketdesk/internal/credential"
)

// NewCredentialStore creates a credential store backed by an in-memory
// keyring.
func NewCredentialStore(t testing.TB) *credential.Store {
	t.Helper()

	s, err := credential.NewStore(keyring.NewArrayKeyring(nil))
	if err != nil {
		t.Fatalf("creating credential store: %v", err)
	}
	return s
}
