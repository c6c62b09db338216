// Package session tracks short-lived operator sessions in memory. Sessions are
// never persisted and expire after a period of inactivity defined by the
// environment profile.
package session

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a registered operator session.
type Session struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Remaining describes how long a session has left.
type Remaining struct {
	Expired   bool   `json:"expired"`
	Minutes   int    `json:"minutes"`
	Hours     int    `json:"hours,omitempty"`
	Formatted string `json:"formatted,omitempty"`
}

// Sweep is the outcome of ExpireInactive.
type Sweep struct {
	Removed    int `json:"removed"`
	NearExpiry int `json:"nearExpiry"`
}

// Registry maps session ids to their owner and activity timestamps.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	profile  Profile
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry creates an empty registry governed by profile.
func NewRegistry(profile Profile, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		profile:  profile,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "session")),
	}
}

// WithNow overrides the clock for deterministic tests.
func (r *Registry) WithNow(now func() time.Time) {
	if now != nil {
		r.mu.Lock()
		r.now = now
		r.mu.Unlock()
	}
}

// Profile returns the active policy.
func (r *Registry) Profile() Profile { return r.profile }

// Create registers a new session for ownerID.
func (r *Registry) Create(ownerID string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	sess := &Session{
		ID:           fmt.Sprintf("sess_%d_%s_%s", now.UnixMilli(), ownerID, suffix),
		OwnerID:      ownerID,
		CreatedAt:    now,
		LastActivity: now,
	}
	r.sessions[sess.ID] = sess
	r.logger.Debug("session created", slog.String("session_id", sess.ID), slog.String("owner_id", ownerID))
	return *sess
}

// Lookup returns the session without refreshing it.
func (r *Registry) Lookup(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Touch refreshes the session's last activity. Sessions already past their
// inactivity limit are removed and reported as missing.
func (r *Registry) Touch(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	now := r.now()
	if now.Sub(sess.LastActivity) > r.profile.Duration {
		delete(r.sessions, id)
		r.logger.Info("session expired on access", slog.String("session_id", id))
		return Session{}, false
	}
	sess.LastActivity = now
	return *sess, true
}

// Extend renews the session; it is Touch reported as an explicit renewal.
func (r *Registry) Extend(id string) bool {
	sess, ok := r.Touch(id)
	if ok {
		r.logger.Info("session extended",
			slog.String("session_id", sess.ID),
			slog.Duration("duration", r.profile.Duration))
	}
	return ok
}

// RemainingTime reports the time left before id expires.
func (r *Registry) RemainingTime(id string) (Remaining, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return Remaining{}, false
	}
	left := r.profile.Duration - r.now().Sub(sess.LastActivity)
	if left <= 0 {
		return Remaining{Expired: true}, true
	}
	minutes := int(math.Round(left.Minutes()))
	hours := minutes / 60
	formatted := fmt.Sprintf("%dmin", minutes)
	if hours > 0 {
		formatted = fmt.Sprintf("%dh %dmin", hours, minutes%60)
	}
	return Remaining{Minutes: minutes, Hours: hours, Formatted: formatted}, true
}

// ExpireInactive removes sessions idle for longer than maxAge (the profile
// duration when maxAge is zero) and counts, without removing, those inside
// the warning window.
func (r *Registry) ExpireInactive(maxAge time.Duration) Sweep {
	if maxAge <= 0 {
		maxAge = r.profile.Duration
	}
	// Sessions idle past threshold are near expiry.
	threshold := maxAge - r.profile.WarningWindow
	if threshold < 0 {
		threshold = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out Sweep
	for id, sess := range r.sessions {
		idle := now.Sub(sess.LastActivity)
		switch {
		case idle > maxAge:
			delete(r.sessions, id)
			out.Removed++
		case idle > threshold:
			out.NearExpiry++
		}
	}
	if out.Removed > 0 {
		r.logger.Info("expired sessions removed", slog.Int("count", out.Removed), slog.Duration("limit", maxAge))
	}
	if out.NearExpiry > 0 && r.profile.Warnings {
		r.logger.Warn("sessions close to expiry", slog.Int("count", out.NearExpiry))
	}
	return out
}

// Destroy removes id. It reports whether a session was present.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	r.logger.Info("session destroyed", slog.String("session_id", id))
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
