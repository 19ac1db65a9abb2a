package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
)

type paymentRequestRepository struct {
	*repos
}

func (r *paymentRequestRepository) Create(ctx context.Context, pr *domain.PaymentRequest) error {
	return r.view(func(st *state) error {
		if pr.IdempotencyKey != nil {
			for _, other := range st.requests {
				if other.StudentID == pr.StudentID && other.IdempotencyKey != nil && *other.IdempotencyKey == *pr.IdempotencyKey {
					return repository.ErrDuplicateIdempotencyKey
				}
			}
		}
		if !pr.IsTerminal() {
			for _, other := range st.requests {
				if !other.IsTerminal() && other.ReceivingAccountID == pr.ReceivingAccountID &&
					other.TotalAmount.Equal(pr.TotalAmount) {
					return repository.ErrDuplicateTotal
				}
			}
		}
		st.requests[pr.ID] = copyRequest(pr)
		return nil
	})
}

func (r *paymentRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	var out *domain.PaymentRequest
	err := r.view(func(st *state) error {
		pr, ok := st.requests[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = copyRequest(pr)
		return nil
	})
	return out, err
}

func (r *paymentRequestRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	return r.GetByID(ctx, id)
}

func (r *paymentRequestRepository) GetByIdempotencyKey(ctx context.Context, studentID uuid.UUID, key string) (*domain.PaymentRequest, error) {
	var out *domain.PaymentRequest
	err := r.view(func(st *state) error {
		for _, pr := range st.requests {
			if pr.StudentID == studentID && pr.IdempotencyKey != nil && *pr.IdempotencyKey == key {
				out = copyRequest(pr)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

// LockAccount is a no-op: transactions are already serialised.
func (r *paymentRequestRepository) LockAccount(ctx context.Context, accountID string) error {
	return nil
}

func (r *paymentRequestRepository) ListOpenTotals(ctx context.Context, accountID string) ([]decimal.Decimal, error) {
	totals := []decimal.Decimal{}
	err := r.view(func(st *state) error {
		for _, pr := range st.requests {
			if pr.ReceivingAccountID == accountID && !pr.IsTerminal() {
				totals = append(totals, pr.TotalAmount)
			}
		}
		return nil
	})
	return totals, err
}

func (r *paymentRequestRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentRequest, error) {
	out := []*domain.PaymentRequest{}
	err := r.view(func(st *state) error {
		for _, pr := range st.requests {
			if pr.IsExpiredAt(now) {
				out = append(out, copyRequest(pr))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *paymentRequestRepository) UpdateStatus(ctx context.Context, pr *domain.PaymentRequest) error {
	return r.view(func(st *state) error {
		cur, ok := st.requests[pr.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.Status = pr.Status
		cur.SettledAccountID = copyString(pr.SettledAccountID)
		cur.FailureReason = copyString(pr.FailureReason)
		if pr.VerifiedAt != nil {
			t := *pr.VerifiedAt
			cur.VerifiedAt = &t
		}
		cur.UpdatedAt = pr.UpdatedAt
		return nil
	})
}
