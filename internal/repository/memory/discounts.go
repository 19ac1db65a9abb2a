package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
)

type discountRepository struct {
	*repos
}

func (r *discountRepository) Create(ctx context.Context, d *domain.Discount) error {
	return r.view(func(st *state) error {
		st.discounts[d.ID] = copyDiscount(d)
		return nil
	})
}

func (r *discountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Discount, error) {
	var out *domain.Discount
	err := r.view(func(st *state) error {
		d, ok := st.discounts[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = copyDiscount(d)
		return nil
	})
	return out, err
}

func (r *discountRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Discount, error) {
	return r.GetByID(ctx, id)
}

func (r *discountRepository) List(ctx context.Context) ([]*domain.Discount, error) {
	out := []*domain.Discount{}
	err := r.view(func(st *state) error {
		for _, d := range st.discounts {
			out = append(out, copyDiscount(d))
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, err
}

func (r *discountRepository) Update(ctx context.Context, d *domain.Discount) error {
	return r.view(func(st *state) error {
		cur, ok := st.discounts[d.ID]
		if !ok {
			return repository.ErrNotFound
		}
		next := copyDiscount(d)
		next.ClassID = cur.ClassID
		next.CreatedAt = cur.CreatedAt
		st.discounts[d.ID] = next
		return nil
	})
}

func (r *discountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.view(func(st *state) error {
		if _, ok := st.discounts[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.discounts, id)
		for _, o := range st.obligations {
			if o.DiscountID != nil && *o.DiscountID == id {
				o.DiscountID = nil
			}
		}
		return nil
	})
}
