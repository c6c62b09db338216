package hybrid

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
	"github.com/tremedam/Agendamento-Pro/internal/session"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

// Handler exposes the merge engine over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	sessions  *session.Registry
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, sessions *session.Registry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, sessions: sessions, validator: validator.New()}
}

// MountRoutes registers schedule routes. Callers must have run
// shared.Authenticate before these handlers.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.withSession)

	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Put("/{id}", h.edit)
	r.Delete("/{id}", h.remove)

	r.Route("/session", func(r chi.Router) {
		r.Get("/status", h.sessionStatus)
		r.Post("/clear", h.clear)
		r.Post("/extend", h.extend)
		r.Post("/logout", h.logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(shared.RequireRole(shared.RoleAdmin))
		r.Get("/base", h.listBase)
		r.Get("/overlays", h.listOverlays)
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
	})
}

// withSession reuses the X-Session-Id session when it is live and belongs to
// the caller, otherwise it opens a new one. The id is echoed on every
// response.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrInvalidToken)
			return
		}
		var (
			sess  session.Session
			found bool
		)
		if raw := r.Header.Get(shared.HeaderSessionID); raw != "" {
			sess, found = h.sessions.Touch(raw)
		}
		if !found || sess.OwnerID != id.UserID {
			sess = h.sessions.Create(id.UserID)
		}
		w.Header().Set(shared.HeaderSessionID, sess.ID)
		next.ServeHTTP(w, r.WithContext(shared.ContextWithSessionID(r.Context(), sess.ID)))
	})
}

type listResponse struct {
	Items     []map[string]any `json:"items"`
	Total     int              `json:"total"`
	SessionID string           `json:"sessionId,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	sid := shared.SessionIDFromContext(r.Context())
	items, err := h.service.ReadWithOverlay(r.Context(), sid, id.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: len(items), SessionID: sid})
}

func (h *Handler) listBase(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ReadBase(r.Context(), shared.RoleAdmin)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: len(items)})
}

func (h *Handler) listOverlays(w http.ResponseWriter, r *http.Request) {
	recs := h.service.ListAll()
	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.Map())
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Total: len(items)})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.CreateVisual(r.Context(), shared.SessionIDFromContext(r.Context()), payload)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	patch := map[string]any{}
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.EditVisual(r.Context(), shared.SessionIDFromContext(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, _ := shared.IdentityFromContext(r.Context())
	out, err := h.service.ApproveVisual(r.Context(), shared.SessionIDFromContext(r.Context()), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
	// Motivo is the legacy name of Reason.
	Motivo string `json:"motivo" validate:"max=500"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, fmt.Errorf("%w: reason is too long", overlay.ErrValidation))
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Motivo
	}
	id, _ := shared.IdentityFromContext(r.Context())
	out, err := h.service.RejectVisual(r.Context(), shared.SessionIDFromContext(r.Context()), chi.URLParam(r, "id"), id.UserID, reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.DeleteVisual(r.Context(), shared.SessionIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type statusResponse struct {
	SessionID string            `json:"sessionId"`
	OwnerID   string            `json:"ownerId"`
	Profile   string            `json:"profile"`
	Remaining session.Remaining `json:"remaining"`
	Warning   bool              `json:"warning"`
	Audit     Audit             `json:"audit"`
}

func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	sid := shared.SessionIDFromContext(r.Context())
	sess, ok := h.sessions.Lookup(sid)
	if !ok {
		h.fail(w, r, ErrSessionRequired)
		return
	}
	remaining, _ := h.sessions.RemainingTime(sid)
	audit, err := h.service.AuditReport(sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	profile := h.sessions.Profile()
	warn := profile.Warnings && !remaining.Expired &&
		remaining.Minutes <= int(profile.WarningWindow.Minutes())
	httpx.JSON(w, http.StatusOK, statusResponse{
		SessionID: sid,
		OwnerID:   sess.OwnerID,
		Profile:   profile.Name,
		Remaining: remaining,
		Warning:   warn,
		Audit:     audit,
	})
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.service.ClearOverlayForOwner(r.Context(), shared.SessionIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	sid := shared.SessionIDFromContext(r.Context())
	if !h.sessions.Extend(sid) {
		h.fail(w, r, ErrSessionRequired)
		return
	}
	remaining, _ := h.sessions.RemainingTime(sid)
	httpx.JSON(w, http.StatusOK, map[string]any{"extended": true, "remaining": remaining})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	destroyed := h.sessions.Destroy(shared.SessionIDFromContext(r.Context()))
	w.Header().Del(shared.HeaderSessionID)
	httpx.JSON(w, http.StatusOK, map[string]bool{"destroyed": destroyed})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		err = fmt.Errorf("%w: %v", overlay.ErrValidation, verrs)
	}
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) &&
		!errors.Is(err, httpx.ErrImmutable) && !errors.Is(err, httpx.ErrUnauthorized) &&
		!errors.Is(err, httpx.ErrForbidden) {
		h.logger.Error("schedule request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
