package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
	"github.com/segyhp/tuition-engine/internal/repository/memory"
	customError "github.com/segyhp/tuition-engine/pkg/errors"
	"github.com/segyhp/tuition-engine/pkg/utils"
)

func grant(name string, student, class uuid.UUID, nominal int64) *domain.GrantScholarshipRequest {
	return &domain.GrantScholarshipRequest{
		StudentID: student,
		ClassID:   class,
		Name:      name,
		Nominal:   money(nominal),
		Actor:     "admin-1",
	}
}

func TestGrant_PartialScholarshipReconcilesObligations(t *testing.T) {
	f := newFixture(t)
	student, class := uuid.New(), uuid.New()
	july := f.seed(t, student, class, "July", 2025, 500000)
	august := f.seed(t, student, class, "August", 2025, 500000)

	res, err := f.scholarships.Grant(context.Background(), grant("Merit", student, class, 200000))
	require.NoError(t, err)
	assert.False(t, res.Scholarship.IsFullScholarship)
	assertAmount(t, 200000, res.TotalAmount)
	require.NotNil(t, res.PeriodFee)
	assertAmount(t, 500000, *res.PeriodFee)
	assert.Empty(t, res.AutoSettled)

	for _, id := range []uuid.UUID{july.ID, august.ID} {
		o := f.obligation(t, id)
		assertAmount(t, 200000, o.ScholarshipAmount)
		assertAmount(t, 300000, o.Remaining())
	}
}

func TestGrant_CrossingFullCoverageAutoSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student, class := uuid.New(), uuid.New()

	// older period with a higher fee keeps a remainder after full coverage
	older := f.seed(t, student, class, "June", 2024, 700000)
	unpaid := f.seed(t, student, class, "July", 2025, 500000)
	paid := f.seed(t, student, class, "August", 2025, 500000)
	f.pay(t, paid.ID, 500000)

	_, err := f.scholarships.Grant(ctx, grant("Merit", student, class, 200000))
	require.NoError(t, err)

	res, err := f.scholarships.Grant(ctx, grant("Orphan support", student, class, 300000))
	require.NoError(t, err)
	assert.True(t, res.Scholarship.IsFullScholarship)
	require.Len(t, res.AutoSettled, 2)

	settled := map[uuid.UUID]domain.ObligationSettledEvent{}
	for _, e := range res.AutoSettled {
		assert.Equal(t, domain.SettlementSourceScholarship, e.Source)
		assert.Equal(t, domain.ObligationStatusPaid, e.StatusAfter)
		settled[e.ObligationID] = e
	}
	assertAmount(t, 200000, settled[older.ID].AmountApplied)
	assertAmount(t, 0, settled[unpaid.ID].AmountApplied)

	o := f.obligation(t, older.ID)
	assert.Equal(t, domain.ObligationStatusPaid, o.Status)
	assertAmount(t, 200000, o.PaidAmount)
	records, err := f.ledger.ListPayments(ctx, older.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.SystemActor, records[0].Actor)

	records, err = f.ledger.ListPayments(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Empty(t, records, "fully covered obligation needs no payment record")
	assert.Equal(t, domain.ObligationStatusPaid, f.obligation(t, unpaid.ID).Status)

	grants, err := f.scholarships.List(ctx, student, class)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.True(t, g.IsFullScholarship)
	}

	again, err := f.scholarships.Grant(ctx, grant("Extra", student, class, 100000))
	require.NoError(t, err)
	assert.Empty(t, again.AutoSettled)
	assert.Len(t, f.publisher.all(), 3, "one manual payment event plus two scholarship events")
}

func TestGrant_PeriodFeeResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown fee is never full", func(t *testing.T) {
		res, err := f.scholarships.Grant(ctx, grant("Merit", uuid.New(), uuid.New(), 999999999))
		require.NoError(t, err)
		assert.False(t, res.Scholarship.IsFullScholarship)
		assert.Nil(t, res.PeriodFee)
	})

	t.Run("fallback fee", func(t *testing.T) {
		req := grant("Merit", uuid.New(), uuid.New(), 500000)
		fallback := money(500000)
		req.FallbackPeriodFee = &fallback

		res, err := f.scholarships.Grant(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Scholarship.IsFullScholarship)
	})
}

func TestGrant_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student, class := uuid.New(), uuid.New()

	_, err := f.scholarships.Grant(ctx, grant("Merit", student, class, 100))
	require.NoError(t, err)

	_, err = f.scholarships.Grant(ctx, grant("  merit ", student, class, 100))
	assert.True(t, customError.Is(err, customError.ErrDuplicateGrant))

	_, err = f.scholarships.Grant(ctx, grant("", student, class, 100))
	assert.True(t, customError.Is(err, customError.ErrValidation))
}

func TestGrantBulk(t *testing.T) {
	f := newFixture(t)
	student, class := uuid.New(), uuid.New()
	f.seed(t, student, class, "July", 2025, 500000)

	res, err := f.scholarships.GrantBulk(context.Background(), []*domain.GrantScholarshipRequest{
		grant("Merit", student, class, 500000),
		grant("Merit", student, class, 500000),
		grant("Broken", student, class, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Granted)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 3, res.Failed[0].Row)
	assert.Len(t, res.AutoSettled, 1)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student, class := uuid.New(), uuid.New()
	o := f.seed(t, student, class, "July", 2025, 500000)
	f.pay(t, o.ID, 300000)

	res, err := f.scholarships.Grant(ctx, grant("Merit", student, class, 200000))
	require.NoError(t, err)
	assert.Equal(t, domain.ObligationStatusPaid, f.obligation(t, o.ID).Status)

	revoked, err := f.scholarships.Revoke(ctx, res.Scholarship.ID)
	require.NoError(t, err)
	assertAmount(t, 0, revoked.TotalAmount)
	assert.Equal(t, 1, revoked.RecomputedRows)

	got := f.obligation(t, o.ID)
	assert.Equal(t, domain.ObligationStatusPartial, got.Status)
	assertAmount(t, 300000, got.PaidAmount)
	assertAmount(t, 0, got.ScholarshipAmount)

	_, err = f.scholarships.Revoke(ctx, res.Scholarship.ID)
	assert.True(t, customError.Is(err, customError.ErrNotFound))
}

// pairTrackingStore records the order of pair locks and name checks made
// inside transactions. With blindNames set the name check never sees an
// existing grant, as happens when two grants race on Postgres.
type pairTrackingStore struct {
	*memory.Store

	mu         sync.Mutex
	calls      []string
	blindNames bool
}

func (s *pairTrackingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *pairTrackingStore) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *pairTrackingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repositories) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		return fn(ctx, pairTrackingRepos{Repositories: tx, store: s})
	})
}

type pairTrackingRepos struct {
	repository.Repositories
	store *pairTrackingStore
}

func (r pairTrackingRepos) Scholarships() repository.ScholarshipRepository {
	return pairTrackingScholarships{ScholarshipRepository: r.Repositories.Scholarships(), store: r.store}
}

type pairTrackingScholarships struct {
	repository.ScholarshipRepository
	store *pairTrackingStore
}

func (r pairTrackingScholarships) LockPair(ctx context.Context, studentID, classID uuid.UUID) error {
	r.store.record("lock " + studentID.String() + "/" + classID.String())
	return r.ScholarshipRepository.LockPair(ctx, studentID, classID)
}

func (r pairTrackingScholarships) ExistsByName(ctx context.Context, studentID, classID uuid.UUID, name string) (bool, error) {
	r.store.record("exists " + name)
	if r.store.blindNames {
		return false, nil
	}
	return r.ScholarshipRepository.ExistsByName(ctx, studentID, classID, name)
}

func TestGrant_LocksPairBeforeNameCheck(t *testing.T) {
	store := &pairTrackingStore{Store: memory.NewStore()}
	clock := utils.NewFixedClock(testStart)
	ledger := NewLedgerService(store, clock, nil, zap.NewNop())
	scholarships := NewScholarshipService(store, clock, nil, zap.NewNop())
	ctx := context.Background()
	student, class := uuid.New(), uuid.New()
	pair := "lock " + student.String() + "/" + class.String()

	_, err := ledger.CreateObligation(ctx, &domain.CreateObligationRequest{
		StudentID: student, ClassID: class, PeriodLabel: "July", PeriodYear: 2025,
		FeeAmount: money(500000), DueDate: testStart,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{pair}, store.recorded())

	res, err := scholarships.Grant(ctx, grant("Merit", student, class, 300000))
	require.NoError(t, err)
	assert.Equal(t, []string{pair, pair, "exists Merit"}, store.recorded())

	_, err = scholarships.Revoke(ctx, res.Scholarship.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{pair, pair, "exists Merit", pair}, store.recorded())
}

func TestGrant_DuplicateThatSlipsPastNameCheck(t *testing.T) {
	store := &pairTrackingStore{Store: memory.NewStore(), blindNames: true}
	scholarships := NewScholarshipService(store, utils.NewFixedClock(testStart), nil, zap.NewNop())
	ctx := context.Background()
	student, class := uuid.New(), uuid.New()

	_, err := scholarships.Grant(ctx, grant("Merit", student, class, 100000))
	require.NoError(t, err)

	_, err = scholarships.Grant(ctx, grant("merit", student, class, 100000))
	assert.True(t, customError.Is(err, customError.ErrDuplicateGrant), "got %v", err)

	bulk, err := scholarships.GrantBulk(ctx, []*domain.GrantScholarshipRequest{grant("Merit", student, class, 100000)})
	require.NoError(t, err)
	assert.Equal(t, 1, bulk.Skipped)
	assert.Empty(t, bulk.Failed)
}
