package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/segyhp/tuition-engine/internal/domain"
)

type paymentRepository struct {
	*repos
}

func (r *paymentRepository) Create(ctx context.Context, record *domain.PaymentRecord) error {
	cp := *record
	return r.view(func(st *state) error {
		st.payments = append(st.payments, &cp)
		return nil
	})
}

func (r *paymentRepository) ListByObligation(ctx context.Context, obligationID uuid.UUID) ([]*domain.PaymentRecord, error) {
	out := []*domain.PaymentRecord{}
	err := r.view(func(st *state) error {
		for _, p := range st.payments {
			if p.ObligationID == obligationID {
				cp := *p
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}
