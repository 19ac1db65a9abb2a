package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
)

type obligationRepository struct {
	*repos
}

func (r *obligationRepository) Create(ctx context.Context, o *domain.TuitionObligation) error {
	return r.view(func(st *state) error {
		for _, other := range st.obligations {
			if other.StudentID == o.StudentID && other.ClassID == o.ClassID &&
				other.PeriodLabel == o.PeriodLabel && other.PeriodYear == o.PeriodYear {
				return repository.ErrDuplicateObligation
			}
		}
		st.obligations[o.ID] = copyObligation(o)
		return nil
	})
}

func (r *obligationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TuitionObligation, error) {
	var out *domain.TuitionObligation
	err := r.view(func(st *state) error {
		o, ok := st.obligations[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = copyObligation(o)
		return nil
	})
	return out, err
}

// GetByIDForUpdate needs no extra locking: the transaction already holds the store mutex.
func (r *obligationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.TuitionObligation, error) {
	return r.GetByID(ctx, id)
}

func (r *obligationRepository) ListByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]*domain.TuitionObligation, error) {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return r.filter(func(o *domain.TuitionObligation) bool {
		_, ok := want[o.ID]
		return ok
	})
}

func (r *obligationRepository) Find(ctx context.Context, f domain.ObligationFilter) ([]*domain.TuitionObligation, error) {
	out, err := r.filter(func(o *domain.TuitionObligation) bool {
		if f.StudentID != nil && *f.StudentID != o.StudentID {
			return false
		}
		if f.ClassID != nil && *f.ClassID != o.ClassID {
			return false
		}
		if f.PeriodLabel != "" && f.PeriodLabel != o.PeriodLabel {
			return false
		}
		if f.PeriodYear != 0 && f.PeriodYear != o.PeriodYear {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PeriodYear != out[j].PeriodYear {
			return out[i].PeriodYear < out[j].PeriodYear
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (r *obligationRepository) ListByStudentClassForUpdate(ctx context.Context, studentID, classID uuid.UUID) ([]*domain.TuitionObligation, error) {
	return r.filter(func(o *domain.TuitionObligation) bool {
		return o.StudentID == studentID && o.ClassID == classID
	})
}

func (r *obligationRepository) ListByPaymentRequest(ctx context.Context, requestID uuid.UUID) ([]*domain.TuitionObligation, error) {
	return r.filter(func(o *domain.TuitionObligation) bool {
		return o.IsLockedBy(requestID)
	})
}

func (r *obligationRepository) ListForDiscountScope(ctx context.Context, classID *uuid.UUID, periods []string, forUpdate bool) ([]*domain.TuitionObligation, error) {
	scope := &domain.Discount{ClassID: classID, TargetPeriods: periods}
	return r.filter(scope.Targets)
}

func (r *obligationRepository) ListByDiscountForUpdate(ctx context.Context, discountID uuid.UUID) ([]*domain.TuitionObligation, error) {
	return r.filter(func(o *domain.TuitionObligation) bool {
		return o.DiscountID != nil && *o.DiscountID == discountID
	})
}

func (r *obligationRepository) GetClassPeriodFee(ctx context.Context, classID uuid.UUID) (decimal.Decimal, bool, error) {
	var (
		latest *domain.TuitionObligation
	)
	err := r.view(func(st *state) error {
		for _, o := range st.obligations {
			if o.ClassID != classID {
				continue
			}
			if latest == nil || o.PeriodYear > latest.PeriodYear ||
				(o.PeriodYear == latest.PeriodYear && o.DueDate.After(latest.DueDate)) {
				latest = o
			}
		}
		return nil
	})
	if err != nil || latest == nil {
		return decimal.Zero, false, err
	}
	return latest.FeeAmount, true, nil
}

func (r *obligationRepository) Update(ctx context.Context, o *domain.TuitionObligation) error {
	return r.view(func(st *state) error {
		if err, ok := r.store.updateFailures[o.ID]; ok {
			return err
		}
		cur, ok := st.obligations[o.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.ScholarshipAmount = o.ScholarshipAmount
		cur.DiscountAmount = o.DiscountAmount
		cur.DiscountID = copyUUID(o.DiscountID)
		cur.PaidAmount = o.PaidAmount
		cur.Status = o.Status
		cur.PendingPaymentRequestID = copyUUID(o.PendingPaymentRequestID)
		cur.UpdatedAt = o.UpdatedAt
		return nil
	})
}

func (r *obligationRepository) ReleaseLocks(ctx context.Context, requestID uuid.UUID) (int, error) {
	released := 0
	err := r.view(func(st *state) error {
		for _, o := range st.obligations {
			if o.IsLockedBy(requestID) {
				o.PendingPaymentRequestID = nil
				released++
			}
		}
		return nil
	})
	return released, err
}

// filter returns copies of matching obligations ordered by id, like the SQL store.
func (r *obligationRepository) filter(match func(o *domain.TuitionObligation) bool) ([]*domain.TuitionObligation, error) {
	out := []*domain.TuitionObligation{}
	err := r.view(func(st *state) error {
		for _, o := range st.obligations {
			if match(o) {
				out = append(out, copyObligation(o))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}
