package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nhle/ticketdesk/internal/credential"
	"github.com/nhle/ticketdesk/internal/metrics"
	"github.com/nhle/ticketdesk/internal/session"
	"github.com/nhle/ticketdesk/internal/store"
)

// ErrNotSignedIn is returned by commands that need a saved session.
var ErrNotSignedIn = errors.New("not signed in; run 'ticketdesk login' first")

// runtime is the set of resources one command invocation owns.
type runtime struct {
	session *session.Session
	cache   *store.SQLiteStore
	metrics *metrics.Metrics
}

// open builds a signed-out session from the loaded configuration.
func open(flags *Flags, opts ...session.Option) (*runtime, error) {
	cfg, err := session.ConfigFrom(flags.Config)
	if err != nil {
		return nil, err
	}

	ring := flags.Keyring
	if ring == nil {
		ring, err = credential.OpenKeyring(flags.Config.Storage.CredentialDir)
		if err != nil {
			return nil, err
		}
	}
	creds, err := credential.NewStore(ring)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	cachePath := flags.Config.Storage.CachePath
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	cache, err := store.NewSQLiteStore(cachePath)
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", cachePath, err)
	}

	rt := &runtime{cache: cache, metrics: metrics.New()}
	opts = append([]session.Option{
		session.WithLogger(flags.Logger),
		session.WithMetrics(rt.metrics),
		session.WithCache(cache),
	}, opts...)
	rt.session = session.New(cfg, creds, opts...)

	return rt, nil
}

// resume restores the saved session or fails with ErrNotSignedIn.
func (rt *runtime) resume(ctx context.Context) error {
	ok, err := rt.session.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resuming session: %w", err)
	}
	if !ok {
		return ErrNotSignedIn
	}
	return nil
}

// close stops background work and releases the cache. Credentials stay
// in place for the next run.
func (rt *runtime) close() {
	rt.session.Close()
	_ = rt.cache.Close()
}
