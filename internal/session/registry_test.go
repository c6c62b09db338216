package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T, env string) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, time.September, 15, 8, 0, 0, 0, time.UTC)}
	reg := NewRegistry(DefaultProfiles().For(env), nil)
	reg.WithNow(clock.Now)
	return reg, clock
}

func TestCreateEmbedsTimestampAndOwner(t *testing.T) {
	reg, clock := newTestRegistry(t, "development")
	sess := reg.Create("U1")

	assert.True(t, strings.HasPrefix(sess.ID, "sess_1757923200000_U1_"))
	assert.Len(t, strings.TrimPrefix(sess.ID, "sess_1757923200000_U1_"), 8)
	assert.Equal(t, "U1", sess.OwnerID)
	assert.Equal(t, clock.now, sess.CreatedAt)
	assert.Equal(t, clock.now, sess.LastActivity)
	assert.NotEqual(t, sess.ID, reg.Create("U1").ID)
	assert.Equal(t, 2, reg.Len())
}

func TestTouchRefreshesActivity(t *testing.T) {
	reg, clock := newTestRegistry(t, "development")
	sess := reg.Create("U1")

	clock.Advance(7 * time.Hour)
	touched, ok := reg.Touch(sess.ID)
	require.True(t, ok)
	assert.Equal(t, clock.now, touched.LastActivity)

	clock.Advance(7 * time.Hour)
	_, ok = reg.Touch(sess.ID)
	assert.True(t, ok, "activity was refreshed")

	_, ok = reg.Touch("sess_unknown")
	assert.False(t, ok)
}

func TestTouchDropsExpiredSession(t *testing.T) {
	reg, clock := newTestRegistry(t, "demo")
	sess := reg.Create("U1")

	clock.Advance(2*time.Hour + time.Second)
	_, ok := reg.Touch(sess.ID)
	assert.False(t, ok)
	assert.Zero(t, reg.Len())
}

func TestRemainingTime(t *testing.T) {
	reg, clock := newTestRegistry(t, "development")
	sess := reg.Create("U1")

	rem, ok := reg.RemainingTime(sess.ID)
	require.True(t, ok)
	assert.False(t, rem.Expired)
	assert.Equal(t, 480, rem.Minutes)
	assert.Equal(t, 8, rem.Hours)
	assert.Equal(t, "8h 0min", rem.Formatted)

	clock.Advance(7*time.Hour + 20*time.Minute)
	rem, _ = reg.RemainingTime(sess.ID)
	assert.Equal(t, 40, rem.Minutes)
	assert.Zero(t, rem.Hours)
	assert.Equal(t, "40min", rem.Formatted)

	clock.Advance(time.Hour)
	rem, ok = reg.RemainingTime(sess.ID)
	require.True(t, ok)
	assert.True(t, rem.Expired)
	assert.Zero(t, rem.Minutes)

	_, ok = reg.RemainingTime("missing")
	assert.False(t, ok)
}

func TestExtend(t *testing.T) {
	reg, clock := newTestRegistry(t, "production")
	sess := reg.Create("U1")

	clock.Advance(23 * time.Hour)
	require.True(t, reg.Extend(sess.ID))
	rem, _ := reg.RemainingTime(sess.ID)
	assert.Equal(t, "24h 0min", rem.Formatted)
	assert.False(t, reg.Extend("missing"))
}

func TestExpireInactive(t *testing.T) {
	reg, clock := newTestRegistry(t, "development")
	stale := reg.Create("U1")
	clock.Advance(7*time.Hour + 50*time.Minute)
	reg.Create("U2")
	reg.Create("U3")

	// stale is 7h50 idle: inside the 15 minute warning window.
	sweep := reg.ExpireInactive(0)
	assert.Equal(t, Sweep{Removed: 0, NearExpiry: 1}, sweep)

	clock.Advance(20 * time.Minute)
	sweep = reg.ExpireInactive(0)
	assert.Equal(t, 1, sweep.Removed)
	_, ok := reg.Lookup(stale.ID)
	assert.False(t, ok)
	assert.Equal(t, 2, reg.Len())

	sweep = reg.ExpireInactive(10 * time.Minute)
	assert.Equal(t, 2, sweep.Removed)
	assert.Zero(t, reg.Len())
}

func TestExpireInactiveShortLimitKeepsFreshSessions(t *testing.T) {
	reg, clock := newTestRegistry(t, "development")
	idle := reg.Create("U1")
	clock.Advance(5 * time.Minute)
	aging := reg.Create("U2")
	clock.Advance(6 * time.Minute)
	reg.Create("U3")

	// The 15 minute warning window is wider than the 10 minute limit.
	sweep := reg.ExpireInactive(10 * time.Minute)
	assert.Equal(t, Sweep{Removed: 1, NearExpiry: 1}, sweep)
	_, ok := reg.Lookup(idle.ID)
	assert.False(t, ok)
	_, ok = reg.Lookup(aging.ID)
	assert.True(t, ok)
	assert.Equal(t, 2, reg.Len())
}

func TestDestroy(t *testing.T) {
	reg, _ := newTestRegistry(t, "development")
	sess := reg.Create("U1")
	assert.True(t, reg.Destroy(sess.ID))
	assert.False(t, reg.Destroy(sess.ID))
}

func TestProfiles(t *testing.T) {
	profiles := DefaultProfiles()

	cases := []struct {
		env      string
		name     string
		duration time.Duration
	}{
		{"development", "development", 8 * time.Hour},
		{"producao", "production", 24 * time.Hour},
		{"PRODUCTION", "production", 24 * time.Hour},
		{"demo", "demo", 2 * time.Hour},
		{"staging", "development", 8 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.env, func(t *testing.T) {
			p := profiles.For(tc.env)
			assert.Equal(t, tc.name, p.Name)
			assert.Equal(t, tc.duration, p.Duration)
			assert.Equal(t, 15*time.Minute, p.WarningWindow)
			assert.Equal(t, 30*time.Minute, p.CleanupInterval)
		})
	}
}

func TestParseProfilesRejectsInvalidDocuments(t *testing.T) {
	_, err := ParseProfiles([]byte("profiles: {}"))
	require.Error(t, err)

	_, err = ParseProfiles([]byte("profiles:\n  x:\n    duration: 0s\n"))
	require.Error(t, err)

	p, err := ParseProfiles([]byte("defaults:\n  warning_window: 5m\nprofiles:\n  kiosk:\n    duration: 30m\n"))
	require.NoError(t, err)
	assert.Equal(t, "kiosk", p.For("anything").Name)
	assert.Equal(t, 5*time.Minute, p.For("kiosk").WarningWindow)
}
