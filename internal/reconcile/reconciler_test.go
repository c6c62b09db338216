package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/session"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestRunOnceEvictsRolledOverPeriods(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2025, 9, 30, 23, 0, 0, 0, time.UTC)}

	mirror := overlay.NewMemoryMirror()
	store := overlay.NewStore(mirror, overlay.Config{Location: time.UTC, ResyncDelay: time.Hour})
	store.WithNow(clk.Now)
	require.NoError(t, store.Init(ctx))

	sessions := session.NewRegistry(session.DefaultProfiles().For("demo"), nil)
	sessions.WithNow(clk.Now)
	stale := sessions.Create("U1")

	_, err := store.Create(ctx, "U1", map[string]any{"product": "Cable"}, time.Time{})
	require.NoError(t, err)

	r := New(sessions, store, 0, nil)
	assert.Equal(t, DefaultInterval, r.Interval())

	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Resynced: true}, res)
	assert.Len(t, store.ListForOwnerPeriod("U1", "2025-09"), 1)

	// The demo profile keeps sessions for two hours.
	clk.Set(time.Date(2025, 10, 1, 1, 30, 0, 0, time.UTC))
	fresh := sessions.Create("U2")

	res, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordsEvicted)
	assert.Equal(t, 1, res.SessionsRemoved)
	assert.Empty(t, store.ListForOwnerPeriod("U1", "2025-09"))
	assert.Empty(t, store.Periods())

	_, ok := sessions.Lookup(stale.ID)
	assert.False(t, ok)
	_, ok = sessions.Lookup(fresh.ID)
	assert.True(t, ok)

	reloaded := overlay.NewStore(mirror, overlay.Config{Location: time.UTC})
	require.NoError(t, reloaded.Init(ctx))
	assert.Zero(t, reloaded.Len())
}

func TestRunOnceRetriesFailedFlush(t *testing.T) {
	ctx := context.Background()
	mirror := overlay.NewMemoryMirror()
	store := overlay.NewStore(mirror, overlay.Config{Location: time.UTC})
	require.NoError(t, store.Init(ctx))

	mirror.FailWith(errors.New("disk full"))
	_, err := store.Create(ctx, "U1", map[string]any{"product": "Cable"}, time.Time{})
	require.NoError(t, err)

	r := New(nil, store, time.Minute, nil)
	_, err = r.RunOnce(ctx)
	require.Error(t, err)
	assert.Error(t, store.LastPersistError())

	mirror.FailWith(nil)
	res, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Resynced)
	assert.NoError(t, store.LastPersistError())

	snap, err := mirror.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
}

type countingOverlay struct {
	mu     sync.Mutex
	passes int
}

func (c *countingOverlay) EvictExpired(context.Context) int {
	c.mu.Lock()
	c.passes++
	c.mu.Unlock()
	return 0
}

func (c *countingOverlay) Resync(context.Context) error { return nil }

func (c *countingOverlay) Passes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passes
}

func TestRunTicksUntilCancelled(t *testing.T) {
	target := &countingOverlay{}
	r := New(nil, target, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return target.Passes() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
