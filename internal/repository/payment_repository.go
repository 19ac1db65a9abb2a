package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/tuition-engine/internal/domain"
)

type paymentRepository struct {
	q sqlx.ExtContext
}

func (r *paymentRepository) Create(ctx context.Context, record *domain.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (id, obligation_id, payment_request_id, amount, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.ExecContext(ctx, query,
		record.ID,
		record.ObligationID,
		record.PaymentRequestID,
		record.Amount,
		record.Actor,
		record.Note,
		record.CreatedAt,
	)

	return err
}

func (r *paymentRepository) ListByObligation(ctx context.Context, obligationID uuid.UUID) ([]*domain.PaymentRecord, error) {
	query := `
		SELECT id, obligation_id, payment_request_id, amount, actor, note, created_at
		FROM payment_records
		WHERE obligation_id = $1
		ORDER BY created_at, id
	`

	records := []*domain.PaymentRecord{}
	if err := sqlx.SelectContext(ctx, r.q, &records, query, obligationID); err != nil {
		return nil, err
	}

	return records, nil
}
