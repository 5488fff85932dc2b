package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/facematch/internal/cache"
	"github.com/kiranshivaraju/facematch/internal/matcher"
	"github.com/kiranshivaraju/facematch/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) ProcessBatch(context.Context) (*matcher.BatchSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &matcher.BatchSummary{Success: true, Message: "No pending jobs"}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	ttl      time.Duration
	next     int
	unlocked int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	l.ttl = ttl
	if _, taken := l.held[key]; taken {
		return "", false, nil
	}
	l.next++
	token := fmt.Sprintf("token-%d", l.next)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.unlocked++
	}
	return nil
}

func TestNew_InvalidCron(t *testing.T) {
	_, err := scheduler.New("not a cron", &countingRunner{}, nil, time.Minute, discard)
	require.Error(t, err)
}

func TestNew_NextRun(t *testing.T) {
	tr, err := scheduler.New("* * * * *", &countingRunner{}, nil, time.Minute, discard)
	require.NoError(t, err)
	assert.False(t, tr.IsRunning())

	tr.Start()
	defer tr.Stop()
	assert.True(t, tr.IsRunning())
	assert.WithinDuration(t, time.Now(), tr.NextRun(), time.Minute+time.Second)
}

func TestRunOnce_NoLocker(t *testing.T) {
	r := &countingRunner{}
	tr, err := scheduler.New("* * * * *", r, nil, time.Minute, discard)
	require.NoError(t, err)

	tr.RunOnce(context.Background())
	tr.RunOnce(context.Background())
	assert.Equal(t, 2, r.count())
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	r := &countingRunner{}
	l := newFakeLocker()
	l.held[cache.BatchLockKey] = "other-replica"
	tr, err := scheduler.New("* * * * *", r, l, 55*time.Second, discard)
	require.NoError(t, err)

	tr.RunOnce(context.Background())
	assert.Equal(t, 0, r.count())
	assert.Equal(t, "other-replica", l.held[cache.BatchLockKey])
	assert.Equal(t, 55*time.Second, l.ttl)
}

func TestRunOnce_ReleasesLockAfterBatch(t *testing.T) {
	r := &countingRunner{}
	l := newFakeLocker()
	tr, err := scheduler.New("* * * * *", r, l, time.Minute, discard)
	require.NoError(t, err)

	tr.RunOnce(context.Background())
	tr.RunOnce(context.Background())
	assert.Equal(t, 2, r.count())
	assert.Equal(t, 2, l.unlocked)
	assert.Empty(t, l.held)
}

func TestRunOnce_ReleasesLockAfterFailedBatch(t *testing.T) {
	r := &countingRunner{err: errors.New("database down")}
	l := newFakeLocker()
	tr, err := scheduler.New("* * * * *", r, l, time.Minute, discard)
	require.NoError(t, err)

	tr.RunOnce(context.Background())
	assert.Equal(t, 1, l.unlocked)
}

func TestRunOnce_LockErrorFailsOpen(t *testing.T) {
	r := &countingRunner{}
	l := newFakeLocker()
	l.err = errors.New("redis down")
	tr, err := scheduler.New("* * * * *", r, l, time.Minute, discard)
	require.NoError(t, err)

	tr.RunOnce(context.Background())
	assert.Equal(t, 1, r.count())
}

func TestRunOnce_BatchErrorDoesNotPanic(t *testing.T) {
	r := &countingRunner{err: errors.New("database down")}
	tr, err := scheduler.New("* * * * *", r, nil, time.Minute, discard)
	require.NoError(t, err)

	assert.NotPanics(t, func() { tr.RunOnce(context.Background()) })
}

func TestStop_Idempotent(t *testing.T) {
	tr, err := scheduler.New("* * * * *", &countingRunner{}, nil, time.Minute, discard)
	require.NoError(t, err)

	tr.Start()
	tr.Start()
	tr.Stop()
	tr.Stop()
	assert.False(t, tr.IsRunning())
}
