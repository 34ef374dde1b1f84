package sync_test

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketdesk/internal/api"
	"github.com/nhle/ticketdesk/internal/metrics"
	tdsync "github.com/nhle/ticketdesk/internal/sync"
)

type fakeRefresher struct {
	mu    gosync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func nextResult(t *testing.T, p *tdsync.Poller) tdsync.SyncResultMsg {
	t.Helper()
	select {
	case msg := <-p.Results():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no reconcile result")
		return tdsync.SyncResultMsg{}
	}
}

func TestPoller_InitialRunAndInterval(t *testing.T) {
	f := &fakeRefresher{}
	p := tdsync.New(f, tdsync.WithInterval(20*time.Millisecond))
	require.NotNil(t, p.Start())
	t.Cleanup(p.Stop)

	assert.NoError(t, nextResult(t, p).Error)
	assert.NoError(t, nextResult(t, p).Error)
	assert.GreaterOrEqual(t, f.Calls(), 2)

	st := p.Status()
	assert.NotEqual(t, tdsync.SyncError, st.State)
	assert.False(t, st.LastSync.IsZero())
}

func TestPoller_StartTwiceIsNoop(t *testing.T) {
	p := tdsync.New(&fakeRefresher{}, tdsync.WithInterval(time.Hour))
	require.NotNil(t, p.Start())
	t.Cleanup(p.Stop)

	assert.Nil(t, p.Start())
	assert.True(t, p.Running())
}

func TestPoller_RefreshNow(t *testing.T) {
	f := &fakeRefresher{}
	p := tdsync.New(f, tdsync.WithInterval(time.Hour))
	p.Start()
	t.Cleanup(p.Stop)
	nextResult(t, p)

	p.RefreshNow()
	nextResult(t, p)
	assert.Equal(t, 2, f.Calls())
}

func TestPoller_ErrorsAndSessionExpiry(t *testing.T) {
	m := metrics.New()
	f := &fakeRefresher{err: errors.New("boom")}
	p := tdsync.New(f, tdsync.WithInterval(time.Hour), tdsync.WithMetrics(m))
	p.Start()
	t.Cleanup(p.Stop)

	msg := nextResult(t, p)
	require.Error(t, msg.Error)
	assert.False(t, msg.SessionExpired)
	assert.Equal(t, tdsync.SyncError, p.Status().State)
	assert.Equal(t, "error", p.Status().State.String())

	f.mu.Lock()
	f.err = errors.Join(errors.New("fetching notifications"), api.ErrSessionExpired)
	f.mu.Unlock()

	p.RefreshNow()
	msg = nextResult(t, p)
	assert.True(t, msg.SessionExpired)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconcileRuns.WithLabelValues("error")))
}

func TestPoller_StopCancelsRunAndRestarts(t *testing.T) {
	f := &fakeRefresher{block: make(chan struct{})}
	p := tdsync.New(f, tdsync.WithInterval(time.Hour))
	p.Start()

	require.Eventually(t, func() bool { return f.Calls() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	assert.False(t, p.Running())
	assert.NotEqual(t, tdsync.SyncRunning, p.Status().State)

	select {
	case msg := <-p.Results():
		t.Fatalf("unexpected result after stop: %+v", msg)
	default:
	}

	f.mu.Lock()
	f.block = nil
	f.mu.Unlock()

	p.Start()
	t.Cleanup(p.Stop)
	assert.NoError(t, nextResult(t, p).Error)
}
