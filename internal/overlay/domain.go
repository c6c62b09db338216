// Package overlay keeps temporary schedule records that are layered on top of
// read-only base data. Records are partitioned by calendar period and owner,
// expire at the end of their period and are mirrored to durable storage after
// every mutation. Nothing in this package writes to the system of record.
package overlay

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
)

// TypeTemporary marks every record owned by the store.
const TypeTemporary = "TEMPORARY"

const (
	idPrefix = "temp_"
	// firstSequence is the first numeric suffix handed out on an empty store.
	firstSequence int64 = 1000
	periodLayout        = "2006-01"
)

// ApprovalStatus is the visual approval state of an overlay record.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ParseApprovalStatus accepts the canonical values plus the legacy Portuguese
// spellings still found in older mirror files.
func ParseApprovalStatus(raw string) (ApprovalStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "pendente":
		return StatusPending, nil
	case "approved", "aprovado":
		return StatusApproved, nil
	case "rejected", "rejeitado":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: unknown approval status %q", ErrValidation, raw)
}

var (
	// ErrNotFound is returned when an identifier does not resolve to a record.
	ErrNotFound = fmt.Errorf("overlay: record %w", httpx.ErrNotFound)
	// ErrValidation flags payloads that violate a record invariant.
	ErrValidation = fmt.Errorf("overlay: %w", httpx.ErrValidation)
	// ErrDemoImmutable is returned when a caller tries to mutate a
	// demonstration record in place instead of forking an overlay.
	ErrDemoImmutable = fmt.Errorf("overlay: demo data cannot be changed, edits create a new temporary record: %w", httpx.ErrImmutable)
	// ErrClosed is returned by operations on a disposed store.
	ErrClosed = errors.New("overlay: store closed")
)

var fallbackIDPattern = regexp.MustCompile(`^(SIM|gemco)_\d+$`)

// IsOverlayID reports whether id names a record owned by the store.
func IsOverlayID(id string) bool {
	return strings.HasPrefix(id, idPrefix)
}

// IsFallbackID reports whether id names a demonstration record served when the
// base provider is unreachable.
func IsFallbackID(id string) bool {
	return fallbackIDPattern.MatchString(id)
}

func formatID(seq int64) string {
	return idPrefix + strconv.FormatInt(seq, 10)
}

func parseSequence(id string) (int64, bool) {
	if !IsOverlayID(id) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, idPrefix), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// PeriodOf returns the YYYY-MM bucket of t in its own location.
func PeriodOf(t time.Time) string {
	return t.Format(periodLayout)
}

// PeriodExpiry returns the first instant of the month that follows period.
func PeriodExpiry(period string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	start, err := time.ParseInLocation(periodLayout, period, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid period %q", ErrValidation, period)
	}
	return start.AddDate(0, 1, 0), nil
}

func nextMonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}

// Location pinpoints a record inside the partitioned index.
type Location struct {
	Record  Record
	Period  string
	OwnerID string
}

// SimulatedApproval is a visual approval or rejection applied to a
// demonstration record. Entries live for the process lifetime.
type SimulatedApproval struct {
	ID     string         `json:"id"`
	Status ApprovalStatus `json:"approvalStatus"`
	Actor  string         `json:"actor"`
	At     time.Time      `json:"at"`
	Motive string         `json:"motive,omitempty"`
}

// Approval is the outcome of an approve or reject call. Exactly one field is
// set: Record for overlay identifiers, Simulated for demonstration ones.
type Approval struct {
	Record    *Record            `json:"item,omitempty"`
	Simulated *SimulatedApproval `json:"simulated,omitempty"`
}
