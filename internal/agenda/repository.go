package agenda

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

// Querier is the subset of pgxpool.Pool the repository needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository reads schedules from PostgreSQL.
type Repository struct {
	db Querier
}

// NewRepository constructs a Repository.
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

const scheduleColumns = `
	id, product_code, product_description, supplier_name, delivery_status,
	delivery_date, quantity, balance, notes, store_code, invoice_number,
	total_value, approval_status, approved_by, approved_at, updated_at`

const listAllSQL = `SELECT` + scheduleColumns + `
FROM schedules
ORDER BY created_at DESC`

const listApprovedSQL = `SELECT` + scheduleColumns + `
FROM schedules
WHERE approval_status = 'approved'
ORDER BY delivery_date ASC NULLS LAST`

const getSQL = `SELECT` + scheduleColumns + `
FROM schedules
WHERE id = $1`

// FetchAll implements Provider.
func (r *Repository) FetchAll(ctx context.Context, role shared.Role) ([]Schedule, error) {
	query := listApprovedSQL
	if role == shared.RoleAdmin {
		query = listAllSQL
	}
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("agenda: list schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agenda: list schedules: %w", err)
	}
	return out, nil
}

// Get implements Provider. Identifiers that are not numeric cannot exist in
// the table and report ErrNotFound without a round trip.
func (r *Repository) Get(ctx context.Context, id string) (Schedule, error) {
	key, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s, err := scanSchedule(r.db.QueryRow(ctx, getSQL, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, err
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.db.Exec(ctx, "SELECT 1")
	return err
}

func scanSchedule(row pgx.Row) (Schedule, error) {
	var (
		s            Schedule
		id           int64
		code, desc   pgtype.Text
		supplier     pgtype.Text
		status       pgtype.Text
		deliveryDate pgtype.Date
		quantity     pgtype.Float8
		balance      pgtype.Float8
		notes, store pgtype.Text
		invoice      pgtype.Text
		total        pgtype.Float8
		approval     pgtype.Text
		approvedBy   pgtype.Text
		approvedAt   pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	err := row.Scan(&id, &code, &desc, &supplier, &status, &deliveryDate, &quantity, &balance,
		&notes, &store, &invoice, &total, &approval, &approvedBy, &approvedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Schedule{}, err
		}
		return Schedule{}, fmt.Errorf("agenda: scan schedule: %w", err)
	}
	s.ID = strconv.FormatInt(id, 10)
	s.ProductCode = code.String
	s.Description = desc.String
	s.Supplier = supplier.String
	s.DeliveryStatus = status.String
	if deliveryDate.Valid {
		s.DeliveryDate = deliveryDate.Time
	}
	s.Quantity = quantity.Float64
	s.Balance = balance.Float64
	s.Notes = notes.String
	s.Store = store.String
	s.InvoiceNumber = invoice.String
	s.TotalValue = total.Float64
	s.ApprovalStatus = approval.String
	if s.ApprovalStatus == "" {
		s.ApprovalStatus = StatusPending
	}
	s.ApprovedBy = approvedBy.String
	s.ApprovedAt = timePtr(approvedAt)
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time
	}
	s.Origin = OriginDatabase
	return s, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
