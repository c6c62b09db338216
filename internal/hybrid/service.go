// Package hybrid merges read-only base schedules with the caller's overlay
// records and routes every write intent into the overlay store. Base data is
// never mutated from here.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tremedam/Agendamento-Pro/internal/agenda"
	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
	"github.com/tremedam/Agendamento-Pro/internal/session"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

// ErrSessionRequired is returned when the session id is missing or expired.
var ErrSessionRequired = fmt.Errorf("hybrid: session required: %w", httpx.ErrUnauthorized)

// Options tunes a Service.
type Options struct {
	Logger *slog.Logger
	// ResetApprovalOnEdit puts an edited overlay record back to pending unless
	// the patch sets a status itself.
	ResetApprovalOnEdit bool
}

// Service is the merge engine.
type Service struct {
	store         *overlay.Store
	sessions      *session.Registry
	base          agenda.Provider
	validate      *validator.Validate
	logger        *slog.Logger
	resetApproval bool
}

// NewService wires the merge engine.
func NewService(store *overlay.Store, sessions *session.Registry, base agenda.Provider, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         store,
		sessions:      sessions,
		base:          base,
		validate:      validator.New(),
		logger:        logger.With(slog.String("component", "hybrid")),
		resetApproval: opts.ResetApprovalOnEdit,
	}
}

// Created is the outcome of CreateVisual.
type Created struct {
	ID     string         `json:"id"`
	Record overlay.Record `json:"item"`
}

// Edited is the outcome of EditVisual. MaskOf is set when a base record got
// a new mask; ForkedFrom when a demonstration record was copied.
type Edited struct {
	Record     overlay.Record `json:"item"`
	MaskOf     string         `json:"maskOf,omitempty"`
	ForkedFrom string         `json:"forkedFrom,omitempty"`
}

// Deleted is the outcome of DeleteVisual.
type Deleted struct {
	RemovedID string `json:"removedId"`
	ViaMask   bool   `json:"viaMask"`
}

// Audit counts the owner's active overlay records.
type Audit struct {
	Total    int `json:"total"`
	New      int `json:"new"`
	Masks    int `json:"masks"`
	Approved int `json:"approved"`
}

// Health summarizes engine state for the health endpoint.
type Health struct {
	Provider         string   `json:"provider"`
	Breaker          string   `json:"breaker,omitempty"`
	Records          int      `json:"records"`
	Periods          []string `json:"periods"`
	Sessions         int      `json:"sessions"`
	LastPersistError string   `json:"lastPersistError,omitempty"`
}

type modeReporter interface {
	Mode() string
	BreakerState() string
}

type quantityRule struct {
	Quantity float64 `validate:"gt=0"`
}

// ReadBase returns base data for role without any overlay.
func (s *Service) ReadBase(ctx context.Context, role shared.Role) ([]map[string]any, error) {
	items, err := s.base.FetchAll(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("hybrid: read base: %w", err)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, item.Fields())
	}
	return out, nil
}

// ReadWithOverlay returns base data followed by overlay records of the
// current period. Administrators see their own records; stores see every
// owner's approved records. Masks are returned alongside the base record they
// cover; replacing it is left to the presentation layer.
func (s *Service) ReadWithOverlay(ctx context.Context, sessionID string, role shared.Role) ([]map[string]any, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	out, err := s.ReadBase(ctx, role)
	if err != nil {
		return nil, err
	}
	period := s.store.CurrentPeriod()
	if role == shared.RoleAdmin {
		for _, rec := range s.store.ListActive(sess.OwnerID, period) {
			out = append(out, rec.Map())
		}
		return out, nil
	}
	for _, rec := range s.store.ListPeriod(period) {
		if rec.ApprovalStatus == overlay.StatusApproved {
			out = append(out, rec.Map())
		}
	}
	return out, nil
}

// CreateVisual stores a new pending overlay record for the session owner.
func (s *Service) CreateVisual(ctx context.Context, sessionID string, payload map[string]any) (Created, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return Created{}, err
	}
	rec, err := s.create(ctx, sess.OwnerID, normalizePayload(payload))
	if err != nil {
		return Created{}, err
	}
	s.logger.Info("overlay record created",
		slog.String("id", rec.ID), slog.String("owner", sess.OwnerID))
	return Created{ID: rec.ID, Record: rec}, nil
}

// EditVisual applies patch to id. Demonstration ids fork a new record seeded
// from the demonstration row; base ids get (or update) a mask; overlay ids
// are updated in place.
func (s *Service) EditVisual(ctx context.Context, sessionID, id string, patch map[string]any) (Edited, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return Edited{}, err
	}
	patch = normalizePayload(patch)

	switch {
	case overlay.IsFallbackID(id):
		base, err := s.base.Get(ctx, id)
		if err != nil {
			return Edited{}, err
		}
		seed := base.Fields()
		for _, k := range []string{overlay.KeyID, overlay.KeyApprovalStatus, overlay.KeyApprovedBy,
			overlay.KeyApprovedAt, overlay.KeyRejectedBy, overlay.KeyRejectedAt, overlay.KeyMotive, "origin", "updatedAt"} {
			delete(seed, k)
		}
		for k, v := range patch {
			seed[k] = v
		}
		rec, err := s.create(ctx, sess.OwnerID, seed)
		if err != nil {
			return Edited{}, err
		}
		s.logger.Info("demonstration record forked", slog.String("from", id), slog.String("id", rec.ID))
		return Edited{Record: rec, ForkedFrom: id}, nil

	case !overlay.IsOverlayID(id):
		if loc, ok := s.store.FindMask(sess.OwnerID, id); ok {
			rec, err := s.update(ctx, loc.Record.ID, patch)
			if err != nil {
				return Edited{}, err
			}
			return Edited{Record: rec, MaskOf: id}, nil
		}
		if _, err := s.base.Get(ctx, id); err != nil {
			return Edited{}, err
		}
		patch[overlay.KeyOriginalExternalID] = id
		rec, err := s.create(ctx, sess.OwnerID, patch)
		if err != nil {
			return Edited{}, err
		}
		s.logger.Info("mask created", slog.String("over", id), slog.String("id", rec.ID))
		return Edited{Record: rec, MaskOf: id}, nil
	}

	rec, err := s.update(ctx, id, patch)
	if err != nil {
		return Edited{}, err
	}
	return Edited{Record: rec}, nil
}

// ApproveVisual marks id approved. The system of record is never contacted.
func (s *Service) ApproveVisual(ctx context.Context, sessionID, id, approverID string) (overlay.Approval, error) {
	if _, err := s.session(sessionID); err != nil {
		return overlay.Approval{}, err
	}
	if err := s.ensureFallback(ctx, id); err != nil {
		return overlay.Approval{}, err
	}
	return s.store.Approve(ctx, id, approverID)
}

// RejectVisual marks id rejected with an optional reason.
func (s *Service) RejectVisual(ctx context.Context, sessionID, id, approverID, reason string) (overlay.Approval, error) {
	if _, err := s.session(sessionID); err != nil {
		return overlay.Approval{}, err
	}
	if err := s.ensureFallback(ctx, id); err != nil {
		return overlay.Approval{}, err
	}
	return s.store.Reject(ctx, id, approverID, reason)
}

// DeleteVisual removes an overlay record. For a base id the owner's mask over
// it is removed instead; demonstration ids cannot be deleted.
func (s *Service) DeleteVisual(ctx context.Context, sessionID, id string) (Deleted, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return Deleted{}, err
	}
	if overlay.IsFallbackID(id) {
		return Deleted{}, overlay.ErrDemoImmutable
	}
	var (
		loc     overlay.Location
		ok      bool
		viaMask bool
	)
	if overlay.IsOverlayID(id) {
		loc, ok = s.store.Locate(id)
	} else {
		loc, ok = s.store.FindMask(sess.OwnerID, id)
		viaMask = true
	}
	if !ok || !s.store.Remove(ctx, loc.OwnerID, loc.Period, loc.Record.ID) {
		return Deleted{}, fmt.Errorf("%w: %s", overlay.ErrNotFound, id)
	}
	return Deleted{RemovedID: loc.Record.ID, ViaMask: viaMask}, nil
}

// ClearOverlayForOwner drops every record of the session owner in the current
// period and reports whether anything was removed.
func (s *Service) ClearOverlayForOwner(ctx context.Context, sessionID string) (bool, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return false, err
	}
	n := s.store.RemoveOwnerPeriod(ctx, sess.OwnerID, s.store.CurrentPeriod())
	if n > 0 {
		s.logger.Info("overlay cleared", slog.String("owner", sess.OwnerID), slog.Int("records", n))
	}
	return n > 0, nil
}

// AuditReport classifies the owner's active records of the current period.
func (s *Service) AuditReport(sessionID string) (Audit, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return Audit{}, err
	}
	var a Audit
	for _, rec := range s.store.ListActive(sess.OwnerID, s.store.CurrentPeriod()) {
		a.Total++
		if rec.IsMask() {
			a.Masks++
		} else {
			a.New++
		}
		if rec.ApprovalStatus == overlay.StatusApproved {
			a.Approved++
		}
	}
	return a, nil
}

// ListAll returns every overlay record of every owner and period.
func (s *Service) ListAll() []overlay.Record {
	return s.store.ListAll()
}

// Health reports provider mode and overlay store state.
func (s *Service) Health() Health {
	h := Health{
		Provider: agenda.ModeDatabase,
		Records:  s.store.Len(),
		Periods:  s.store.Periods(),
		Sessions: s.sessions.Len(),
	}
	if m, ok := s.base.(modeReporter); ok {
		h.Provider = m.Mode()
		h.Breaker = m.BreakerState()
	} else if _, ok := s.base.(*agenda.Fallback); ok {
		h.Provider = agenda.ModeFallback
	}
	if err := s.store.LastPersistError(); err != nil {
		h.LastPersistError = err.Error()
	}
	return h
}

func (s *Service) session(id string) (session.Session, error) {
	if id == "" {
		return session.Session{}, ErrSessionRequired
	}
	sess, ok := s.sessions.Touch(id)
	if !ok {
		return session.Session{}, ErrSessionRequired
	}
	return sess, nil
}

func (s *Service) checkQuantity(payload map[string]any) error {
	qty, present, err := quantityOf(payload)
	if err != nil || !present {
		return err
	}
	if err := s.validate.Struct(quantityRule{Quantity: qty}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: quantity must be greater than zero", overlay.ErrValidation)
		}
		return err
	}
	return nil
}

func (s *Service) create(ctx context.Context, ownerID string, payload map[string]any) (overlay.Record, error) {
	if err := s.checkQuantity(payload); err != nil {
		return overlay.Record{}, err
	}
	payload[overlay.KeyApprovalStatus] = string(overlay.StatusPending)
	return s.store.Create(ctx, ownerID, payload, time.Time{})
}

func (s *Service) update(ctx context.Context, id string, patch map[string]any) (overlay.Record, error) {
	if err := s.checkQuantity(patch); err != nil {
		return overlay.Record{}, err
	}
	if _, ok := patch[overlay.KeyApprovalStatus]; !ok && s.resetApproval {
		patch[overlay.KeyApprovalStatus] = string(overlay.StatusPending)
	}
	return s.store.Update(ctx, id, patch)
}

// ensureFallback rejects simulated decisions on demonstration ids that do not
// exist.
func (s *Service) ensureFallback(ctx context.Context, id string) error {
	if !overlay.IsFallbackID(id) {
		return nil
	}
	_, err := s.base.Get(ctx, id)
	return err
}
