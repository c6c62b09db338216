package agenda

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tremedam/Agendamento-Pro/internal/platform/db"
)

const seedSQL = `
INSERT INTO schedules (
	product_code, product_description, supplier_name, delivery_status,
	delivery_date, quantity, balance, notes, store_code, invoice_number,
	total_value, approval_status, created_by
)
SELECT $1::text, $2::text, $3::text, $4::text, $5::date, $6::float8, $7::float8,
	$8::text, $9::text, $10::text, $11::float8, $12::text, 'seed'
WHERE NOT EXISTS (
	SELECT 1 FROM schedules WHERE product_code = $1::text AND invoice_number IS NOT DISTINCT FROM $10::text
)`

// Seed copies the demonstration dataset into the schedules table inside a
// single transaction. Rows already present (same product code and invoice)
// are skipped. It returns the number of inserted rows.
func Seed(ctx context.Context, conn db.Beginner) (int, error) {
	inserted := 0
	err := db.WithTx(ctx, conn, func(ctx context.Context, tx pgx.Tx) error {
		for _, s := range demoSchedules() {
			var date any
			if !s.DeliveryDate.IsZero() {
				date = s.DeliveryDate
			}
			var invoice any
			if s.InvoiceNumber != "" {
				invoice = s.InvoiceNumber
			}
			tag, err := tx.Exec(ctx, seedSQL,
				s.ProductCode, s.Description, s.Supplier, s.DeliveryStatus,
				date, s.Quantity, s.Balance, s.Notes, s.Store, invoice,
				s.TotalValue, s.ApprovalStatus)
			if err != nil {
				return fmt.Errorf("agenda: seed %s: %w", s.ID, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
