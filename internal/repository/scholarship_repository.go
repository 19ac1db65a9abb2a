package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/tuition-engine/internal/domain"
)

const scholarshipColumns = `id, student_id, class_id, name, nominal, is_full_scholarship, created_by, created_at`

const scholarshipNameIndex = "uniq_scholarships_pair_name"

type scholarshipRepository struct {
	q sqlx.ExtContext
}

func (r *scholarshipRepository) Create(ctx context.Context, s *domain.Scholarship) error {
	query := `
		INSERT INTO scholarships (` + scholarshipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		s.ID,
		s.StudentID,
		s.ClassID,
		s.Name,
		s.Nominal,
		s.IsFullScholarship,
		s.CreatedBy,
		s.CreatedAt,
	)
	if isUniqueViolation(err, scholarshipNameIndex) {
		return ErrDuplicateGrant
	}

	return err
}

func (r *scholarshipRepository) LockPair(ctx context.Context, studentID, classID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
		"scholarship-pair:"+studentID.String()+":"+classID.String())
	return err
}

func (r *scholarshipRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Scholarship, error) {
	query := `SELECT ` + scholarshipColumns + ` FROM scholarships WHERE id = $1`

	var s domain.Scholarship
	if err := sqlx.GetContext(ctx, r.q, &s, query, id); err != nil {
		return nil, notFound(err)
	}

	return &s, nil
}

func (r *scholarshipRepository) ListByStudentClass(ctx context.Context, studentID, classID uuid.UUID) ([]*domain.Scholarship, error) {
	query := `
		SELECT ` + scholarshipColumns + `
		FROM scholarships
		WHERE student_id = $1 AND class_id = $2
		ORDER BY created_at, id
	`

	grants := []*domain.Scholarship{}
	if err := sqlx.SelectContext(ctx, r.q, &grants, query, studentID, classID); err != nil {
		return nil, err
	}

	return grants, nil
}

func (r *scholarshipRepository) ExistsByName(ctx context.Context, studentID, classID uuid.UUID, name string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM scholarships
			WHERE student_id = $1 AND class_id = $2 AND lower(name) = lower($3)
		)
	`

	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists, query, studentID, classID, name)
	return exists, err
}

func (r *scholarshipRepository) SetFullFlag(ctx context.Context, studentID, classID uuid.UUID, full bool) error {
	query := `
		UPDATE scholarships
		SET is_full_scholarship = $3
		WHERE student_id = $1 AND class_id = $2
	`

	_, err := r.q.ExecContext(ctx, query, studentID, classID, full)
	return err
}

func (r *scholarshipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM scholarships WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return expectOneRow(res)
}
