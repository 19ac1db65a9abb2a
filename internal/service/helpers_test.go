package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/idempotency"
	"github.com/segyhp/tuition-engine/internal/repository/memory"
	"github.com/segyhp/tuition-engine/pkg/utils"
)

var testStart = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

const testLease = time.Minute

// scriptedCodes replays a fixed list of draws, cycling when it runs out.
type scriptedCodes struct {
	mu     sync.Mutex
	values []int
	next   int
}

func (c *scriptedCodes) Intn(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.values) == 0 {
		return 0
	}
	v := c.values[c.next%len(c.values)]
	c.next++
	return v % n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ObligationSettledEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, events []domain.ObligationSettledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) all() []domain.ObligationSettledEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ObligationSettledEvent(nil), p.events...)
}

type fixture struct {
	store     *memory.Store
	clock     *utils.FixedClock
	codes     *scriptedCodes
	keys      *idempotency.MemoryStore
	publisher *recordingPublisher

	ledger       *LedgerService
	scholarships *ScholarshipService
	discounts    *DiscountService
	requests     *PaymentRequestService
}

func testOptions() PaymentRequestOptions {
	return PaymentRequestOptions{
		TTL:             15 * time.Minute,
		CodeMin:         1,
		CodeMax:         999,
		CodeAttempts:    25,
		DefaultAccount:  "main",
		IdempotencyWait: 0,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     memory.NewStore(),
		clock:     utils.NewFixedClock(testStart),
		codes:     &scriptedCodes{values: []int{41}},
		publisher: &recordingPublisher{},
	}
	f.keys = idempotency.NewMemoryStore(f.clock, testLease, 24*time.Hour)

	logger := zap.NewNop()
	f.ledger = NewLedgerService(f.store, f.clock, f.publisher, logger)
	f.scholarships = NewScholarshipService(f.store, f.clock, f.publisher, logger)
	f.discounts = NewDiscountService(f.store, f.clock, f.publisher, logger)
	f.requests = NewPaymentRequestService(f.store, f.clock, f.codes, f.keys, f.publisher, logger, testOptions())

	return f
}

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func (f *fixture) seed(t *testing.T, studentID, classID uuid.UUID, period string, year int, fee int64) *domain.TuitionObligation {
	t.Helper()

	o, err := f.ledger.CreateObligation(context.Background(), &domain.CreateObligationRequest{
		StudentID:   studentID,
		ClassID:     classID,
		PeriodLabel: period,
		PeriodYear:  year,
		FeeAmount:   money(fee),
		DueDate:     time.Date(year, 7, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) obligation(t *testing.T, id uuid.UUID) *domain.TuitionObligation {
	t.Helper()
	o, err := f.ledger.GetObligation(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) pay(t *testing.T, id uuid.UUID, amount int64) *domain.PaymentResult {
	t.Helper()
	res, err := f.ledger.ApplyPayment(context.Background(), id, "cashier-1", &domain.ApplyPaymentRequest{Amount: money(amount)})
	require.NoError(t, err)
	return res
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, money(want).Equal(got), "want %d, got %s", want, got)
}
