package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/tuition-engine/internal/domain"
)

const discountColumns = `id, name, amount, target_periods, class_id, active, created_at, updated_at`

type discountRepository struct {
	q sqlx.ExtContext
}

func (r *discountRepository) Create(ctx context.Context, d *domain.Discount) error {
	query := `
		INSERT INTO discounts (` + discountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		d.ID,
		d.Name,
		d.Amount,
		d.TargetPeriods,
		d.ClassID,
		d.Active,
		d.CreatedAt,
		d.UpdatedAt,
	)

	return err
}

func (r *discountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Discount, error) {
	return r.get(ctx, id, false)
}

func (r *discountRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Discount, error) {
	return r.get(ctx, id, true)
}

func (r *discountRepository) get(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var d domain.Discount
	if err := sqlx.GetContext(ctx, r.q, &d, query, id); err != nil {
		return nil, notFound(err)
	}

	return &d, nil
}

func (r *discountRepository) List(ctx context.Context) ([]*domain.Discount, error) {
	query := `SELECT ` + discountColumns + ` FROM discounts ORDER BY created_at DESC, id`

	discounts := []*domain.Discount{}
	if err := sqlx.SelectContext(ctx, r.q, &discounts, query); err != nil {
		return nil, err
	}

	return discounts, nil
}

func (r *discountRepository) Update(ctx context.Context, d *domain.Discount) error {
	query := `
		UPDATE discounts
		SET name = $2, amount = $3, target_periods = $4, active = $5, updated_at = $6
		WHERE id = $1
	`

	res, err := r.q.ExecContext(ctx, query,
		d.ID,
		d.Name,
		d.Amount,
		d.TargetPeriods,
		d.Active,
		d.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}

func (r *discountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM discounts WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}
