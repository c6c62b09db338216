// Package agenda reads base delivery schedules from the system of record. It
// never writes: every change a user makes lives in the overlay store.
package agenda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

// Origins tag where a base record came from.
const (
	OriginDatabase  = "DATABASE"
	OriginSimulated = "SIMULATED"
	OriginGEMCO     = "GEMCO"
)

// Approval statuses stored on base records.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ErrNotFound indicates the base record does not exist.
var ErrNotFound = fmt.Errorf("agenda: schedule %w", httpx.ErrNotFound)

// Schedule is a base delivery schedule.
type Schedule struct {
	ID             string
	ProductCode    string
	Description    string
	Supplier       string
	DeliveryStatus string
	DeliveryDate   time.Time
	Quantity       float64
	Balance        float64
	Notes          string
	Store          string
	InvoiceNumber  string
	TotalValue     float64
	ApprovalStatus string
	ApprovedBy     string
	ApprovedAt     *time.Time
	RejectedBy     string
	RejectedAt     *time.Time
	Motive         string
	UpdatedAt      time.Time
	Origin         string
}

// Approved reports whether the store face may show the schedule.
func (s Schedule) Approved() bool {
	return strings.EqualFold(s.ApprovalStatus, StatusApproved)
}

// Fields flattens the schedule into the attribute map shared with overlay
// records. Description is mirrored into product.
func (s Schedule) Fields() map[string]any {
	out := map[string]any{
		"id":             s.ID,
		"productCode":    s.ProductCode,
		"description":    s.Description,
		"product":        s.Description,
		"supplier":       s.Supplier,
		"status":         s.DeliveryStatus,
		"quantity":       s.Quantity,
		"balance":        s.Balance,
		"notes":          s.Notes,
		"store":          s.Store,
		"invoiceNumber":  s.InvoiceNumber,
		"totalValue":     s.TotalValue,
		"approvalStatus": s.ApprovalStatus,
		"origin":         s.Origin,
	}
	if !s.DeliveryDate.IsZero() {
		out["deliveryDate"] = s.DeliveryDate.Format(time.DateOnly)
	}
	if !s.UpdatedAt.IsZero() {
		out["updatedAt"] = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if s.ApprovedBy != "" {
		out["approvedBy"] = s.ApprovedBy
	}
	if s.ApprovedAt != nil {
		out["approvedAt"] = s.ApprovedAt.UTC().Format(time.RFC3339)
	}
	if s.RejectedBy != "" {
		out["rejectedBy"] = s.RejectedBy
	}
	if s.RejectedAt != nil {
		out["rejectedAt"] = s.RejectedAt.UTC().Format(time.RFC3339)
	}
	if s.Motive != "" {
		out["motive"] = s.Motive
	}
	return out
}

// Provider is the read-only boundary to base data. FetchAll returns every
// schedule for administrators and only approved ones for stores.
type Provider interface {
	FetchAll(ctx context.Context, role shared.Role) ([]Schedule, error)
	Get(ctx context.Context, id string) (Schedule, error)
}

func filterForRole(items []Schedule, role shared.Role) []Schedule {
	if role == shared.RoleAdmin {
		return items
	}
	out := make([]Schedule, 0, len(items))
	for _, s := range items {
		if s.Approved() {
			out = append(out, s)
		}
	}
	return out
}
