// Package memory is an in-process implementation of repository.Store.
//
// Transactions are serialised behind one mutex and work on a copy of the
// data; the copy replaces the live state only when the transaction function
// returns nil, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
)

type (
	Store struct {
		mu    sync.Mutex
		state *state

		// failures injected by tests, keyed by obligation id
		updateFailures map[uuid.UUID]error
	}

	state struct {
		obligations  map[uuid.UUID]*domain.TuitionObligation
		payments     []*domain.PaymentRecord
		scholarships map[uuid.UUID]*domain.Scholarship
		discounts    map[uuid.UUID]*domain.Discount
		requests     map[uuid.UUID]*domain.PaymentRequest
	}

	// repos is bound either to the live state (locking per call) or to a
	// transaction's working copy (lock already held).
	repos struct {
		store  *Store
		st     *state
		locked bool
	}
)

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		state: &state{
			obligations:  make(map[uuid.UUID]*domain.TuitionObligation),
			scholarships: make(map[uuid.UUID]*domain.Scholarship),
			discounts:    make(map[uuid.UUID]*domain.Discount),
			requests:     make(map[uuid.UUID]*domain.PaymentRequest),
		},
		updateFailures: make(map[uuid.UUID]error),
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, &repos{store: s, st: work, locked: true}); err != nil {
		return err
	}

	s.state = work
	return nil
}

// FailObligationUpdate makes every later Update of the obligation fail with err.
func (s *Store) FailObligationUpdate(id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateFailures[id] = err
}

func (s *Store) live() *repos {
	return &repos{store: s}
}

func (s *Store) Obligations() repository.ObligationRepository {
	return &obligationRepository{s.live()}
}

func (s *Store) Payments() repository.PaymentRepository {
	return &paymentRepository{s.live()}
}

func (s *Store) Scholarships() repository.ScholarshipRepository {
	return &scholarshipRepository{s.live()}
}

func (s *Store) Discounts() repository.DiscountRepository {
	return &discountRepository{s.live()}
}

func (s *Store) PaymentRequests() repository.PaymentRequestRepository {
	return &paymentRequestRepository{s.live()}
}

func (r *repos) Obligations() repository.ObligationRepository {
	return &obligationRepository{r}
}

func (r *repos) Payments() repository.PaymentRepository {
	return &paymentRepository{r}
}

func (r *repos) Scholarships() repository.ScholarshipRepository {
	return &scholarshipRepository{r}
}

func (r *repos) Discounts() repository.DiscountRepository {
	return &discountRepository{r}
}

func (r *repos) PaymentRequests() repository.PaymentRequestRepository {
	return &paymentRequestRepository{r}
}

// view runs fn against the state the repos is bound to, taking the store
// lock when not already inside a transaction.
func (r *repos) view(fn func(st *state) error) error {
	if r.locked {
		return fn(r.st)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (st *state) clone() *state {
	c := &state{
		obligations:  make(map[uuid.UUID]*domain.TuitionObligation, len(st.obligations)),
		payments:     make([]*domain.PaymentRecord, len(st.payments)),
		scholarships: make(map[uuid.UUID]*domain.Scholarship, len(st.scholarships)),
		discounts:    make(map[uuid.UUID]*domain.Discount, len(st.discounts)),
		requests:     make(map[uuid.UUID]*domain.PaymentRequest, len(st.requests)),
	}
	for id, o := range st.obligations {
		c.obligations[id] = copyObligation(o)
	}
	// payment records are insert-only, sharing the pointers is safe
	copy(c.payments, st.payments)
	for id, s := range st.scholarships {
		cp := *s
		c.scholarships[id] = &cp
	}
	for id, d := range st.discounts {
		c.discounts[id] = copyDiscount(d)
	}
	for id, pr := range st.requests {
		c.requests[id] = copyRequest(pr)
	}
	return c
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func copyObligation(o *domain.TuitionObligation) *domain.TuitionObligation {
	cp := *o
	cp.DiscountID = copyUUID(o.DiscountID)
	cp.PendingPaymentRequestID = copyUUID(o.PendingPaymentRequestID)
	return &cp
}

func copyDiscount(d *domain.Discount) *domain.Discount {
	cp := *d
	cp.ClassID = copyUUID(d.ClassID)
	cp.TargetPeriods = append([]string(nil), d.TargetPeriods...)
	return &cp
}

func copyRequest(pr *domain.PaymentRequest) *domain.PaymentRequest {
	cp := *pr
	cp.IdempotencyKey = copyString(pr.IdempotencyKey)
	cp.SettledAccountID = copyString(pr.SettledAccountID)
	cp.FailureReason = copyString(pr.FailureReason)
	if pr.VerifiedAt != nil {
		t := *pr.VerifiedAt
		cp.VerifiedAt = &t
	}
	cp.Items = make([]*domain.PaymentRequestItem, len(pr.Items))
	for i, item := range pr.Items {
		it := *item
		cp.Items[i] = &it
	}
	return &cp
}
