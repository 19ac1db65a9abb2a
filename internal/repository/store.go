package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const maxTxAttempts = 3

// Postgres error codes the store reacts to.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

type pgStore struct {
	db *sqlx.DB
	pgRepositories
}

// pgRepositories binds the repositories to either the pool or a transaction.
type pgRepositories struct {
	q sqlx.ExtContext
}

// NewPostgresStore returns a Store backed by Postgres through sqlx.
func NewPostgresStore(db *sqlx.DB) Store {
	return &pgStore{db: db, pgRepositories: pgRepositories{q: db}}
}

func (r pgRepositories) Obligations() ObligationRepository {
	return &obligationRepository{q: r.q}
}

func (r pgRepositories) Payments() PaymentRepository {
	return &paymentRepository{q: r.q}
}

func (r pgRepositories) Scholarships() ScholarshipRepository {
	return &scholarshipRepository{q: r.q}
}

func (r pgRepositories) Discounts() DiscountRepository {
	return &discountRepository{q: r.q}
}

func (r pgRepositories) PaymentRequests() PaymentRequestRepository {
	return &paymentRequestRepository{q: r.q}
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken with
// SELECT ... FOR UPDATE serialise writers per obligation; transactions the
// server aborts for serialization or deadlock reasons are retried.
func (s *pgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

func (s *pgStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, pgRepositories{q: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}

	return nil
}
