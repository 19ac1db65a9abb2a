package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/config"
	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/idempotency"
	"github.com/segyhp/tuition-engine/internal/repository"
	customError "github.com/segyhp/tuition-engine/pkg/errors"
	"github.com/segyhp/tuition-engine/pkg/utils"
)

const (
	idempotencyPollInterval = 50 * time.Millisecond

	// Complete and Release run after the caller may have gone away.
	idempotencyCleanupTimeout = 2 * time.Second
)

// PaymentRequestOptions are the policy knobs of the payment request envelope.
type PaymentRequestOptions struct {
	TTL             time.Duration
	CodeMin         int
	CodeMax         int
	CodeAttempts    int
	DefaultAccount  string
	IdempotencyWait time.Duration
}

func PaymentRequestOptionsFromConfig(cfg *config.Config) PaymentRequestOptions {
	return PaymentRequestOptions{
		TTL:             cfg.GetPaymentRequestTTL(),
		CodeMin:         cfg.Billing.UniqueCodeMin,
		CodeMax:         cfg.Billing.UniqueCodeMax,
		CodeAttempts:    cfg.Billing.UniqueCodeAttempts,
		DefaultAccount:  cfg.Billing.DefaultReceivingAccount,
		IdempotencyWait: cfg.GetIdempotencyWait(),
	}
}

// PaymentRequestService runs the payment request lifecycle:
// PENDING -> VERIFIED | EXPIRED | CANCELLED, PENDING -> VERIFYING -> VERIFIED | FAILED.
type PaymentRequestService struct {
	store     repository.Store
	clock     utils.Clock
	codes     utils.CodeSource
	keys      idempotency.Store
	publisher EventPublisher
	logger    *zap.Logger
	opts      PaymentRequestOptions
}

func NewPaymentRequestService(
	store repository.Store,
	clock utils.Clock,
	codes utils.CodeSource,
	keys idempotency.Store,
	publisher EventPublisher,
	logger *zap.Logger,
	opts PaymentRequestOptions,
) *PaymentRequestService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &PaymentRequestService{
		store:     store,
		clock:     clock,
		codes:     codes,
		keys:      keys,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

// Create groups obligations into one transfer instruction whose total is
// made unique on the receiving account by a small surcharge.
func (s *PaymentRequestService) Create(ctx context.Context, req *domain.CreatePaymentRequestRequest) (*domain.CreatePaymentRequestResponse, error) {
	if len(req.ObligationIDs) == 0 {
		return nil, customError.WrapValidation("at least one obligation is required")
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || s.keys == nil {
		// the unique key on the request row still deduplicates without a cache
		return s.create(ctx, req, key)
	}

	cacheKey := fmt.Sprintf("payment-request:%s:%s", req.StudentID, key)
	reservation, err := s.reserve(ctx, cacheKey)
	if err != nil {
		if customError.Is(err, customError.ErrRequestInProgress) {
			// the holder may have committed and then failed to mark the key done
			if resp, lookupErr := s.replayByKey(ctx, req.StudentID, key); lookupErr == nil && resp != nil {
				return resp, nil
			}
		}
		return nil, err
	}

	if reservation.State == idempotency.StateDone {
		pr, err := s.Get(ctx, reservation.ResourceID)
		if err != nil {
			return nil, err
		}
		return &domain.CreatePaymentRequestResponse{PaymentRequest: pr, Replayed: true}, nil
	}

	resp, err := s.create(ctx, req, key)

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyCleanupTimeout)
	defer cancel()

	if err != nil {
		if relErr := s.keys.Release(cleanupCtx, cacheKey); relErr != nil {
			s.logger.Warn("failed to release idempotency key", zap.String("key", cacheKey), zap.Error(relErr))
		}
		return nil, err
	}

	if err := s.keys.Complete(cleanupCtx, cacheKey, resp.PaymentRequest.ID); err != nil {
		// the request row carries the key too, so a replay still resolves
		s.logger.Warn("failed to complete idempotency key", zap.String("key", cacheKey), zap.Error(err))
	}

	return resp, nil
}

// replayByKey looks up the request a key already produced. It returns nil
// when the key has not been used.
func (s *PaymentRequestService) replayByKey(ctx context.Context, studentID uuid.UUID, key string) (*domain.CreatePaymentRequestResponse, error) {
	pr, err := s.store.PaymentRequests().GetByIdempotencyKey(ctx, studentID, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	pr.Status = pr.EffectiveStatus(s.clock.Now())
	return &domain.CreatePaymentRequestResponse{PaymentRequest: pr, Replayed: true}, nil
}

// reserve takes the key, or waits for the holder to finish up to the
// configured wait.
func (s *PaymentRequestService) reserve(ctx context.Context, key string) (idempotency.Reservation, error) {
	deadline := time.Now().Add(s.opts.IdempotencyWait)
	for {
		res, err := s.keys.Reserve(ctx, key)
		if err != nil {
			return idempotency.Reservation{}, customError.WrapCacheError(err)
		}
		if res.State != idempotency.StatePending {
			return res, nil
		}
		if !time.Now().Before(deadline) {
			return idempotency.Reservation{}, customError.WrapRequestInProgress(key)
		}

		select {
		case <-ctx.Done():
			return idempotency.Reservation{}, ctx.Err()
		case <-time.After(idempotencyPollInterval):
		}
	}
}

func (s *PaymentRequestService) create(ctx context.Context, req *domain.CreatePaymentRequestRequest, key string) (*domain.CreatePaymentRequestResponse, error) {
	account := strings.TrimSpace(req.ReceivingAccountID)
	if account == "" {
		account = s.opts.DefaultAccount
	}
	ids := utils.UniqueSortedIDs(req.ObligationIDs)

	var (
		resp    *domain.CreatePaymentRequestResponse
		expired []uuid.UUID
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		resp, expired = nil, nil
		now := s.clock.Now()

		if key != "" {
			existing, err := tx.PaymentRequests().GetByIdempotencyKey(ctx, req.StudentID, key)
			if err == nil {
				existing.Status = existing.EffectiveStatus(now)
				resp = &domain.CreatePaymentRequestResponse{PaymentRequest: existing, Replayed: true}
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}

		if err := tx.PaymentRequests().LockAccount(ctx, account); err != nil {
			return err
		}

		obligations, err := tx.Obligations().ListByIDsForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		if missing := missingID(ids, obligations); missing != uuid.Nil {
			return customError.WrapObligationNotFound(missing)
		}

		base := decimal.Zero
		for _, o := range obligations {
			if o.StudentID != req.StudentID {
				return customError.WrapValidation(fmt.Sprintf("obligation %s does not belong to student %s", o.ID, req.StudentID))
			}
			if o.IsPaid() {
				return customError.WrapObligationUnavailable(o.ID, "already paid").WithDetail("status", o.Status)
			}
			if o.PendingPaymentRequestID != nil {
				released, err := s.releaseStaleHolder(ctx, tx, o, now)
				if err != nil {
					return err
				}
				if released != uuid.Nil {
					expired = append(expired, released)
				}
			}
			base = base.Add(o.Remaining())
		}
		if !base.IsPositive() {
			return customError.WrapValidation("nothing left to pay on the selected obligations")
		}

		total, code, err := s.pickTotal(ctx, tx, account, base)
		if err != nil {
			return err
		}

		pr := &domain.PaymentRequest{
			ID:                 uuid.New(),
			StudentID:          req.StudentID,
			ReceivingAccountID: account,
			BaseAmount:         base,
			UniqueCode:         code,
			TotalAmount:        total,
			Status:             domain.PaymentRequestStatusPending,
			CreatedAt:          now,
			ExpiresAt:          now.Add(s.opts.TTL),
			UpdatedAt:          now,
			Items:              make([]*domain.PaymentRequestItem, 0, len(obligations)),
		}
		if key != "" {
			k := key
			pr.IdempotencyKey = &k
		}
		for _, o := range obligations {
			pr.Items = append(pr.Items, &domain.PaymentRequestItem{
				PaymentRequestID: pr.ID,
				ObligationID:     o.ID,
				AllocatedAmount:  o.Remaining(),
			})
		}

		if err := tx.PaymentRequests().Create(ctx, pr); err != nil {
			if errors.Is(err, repository.ErrDuplicateTotal) {
				return customError.WrapDisambiguationExhausted(account, s.opts.CodeAttempts)
			}
			return err
		}

		for _, o := range obligations {
			requestID := pr.ID
			o.PendingPaymentRequestID = &requestID
			o.UpdatedAt = now
			if err := tx.Obligations().Update(ctx, o); err != nil {
				return err
			}
		}

		resp = &domain.CreatePaymentRequestResponse{PaymentRequest: pr}
		return nil
	})
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		// a concurrent call with the same key committed first
		resp, lookupErr := s.replayByKey(ctx, req.StudentID, key)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if resp != nil {
			return resp, nil
		}
	}
	if err != nil {
		return nil, dbError(err)
	}

	for _, id := range expired {
		s.logger.Info("payment request expired lazily", zap.String("payment_request_id", id.String()))
	}
	if !resp.Replayed {
		pr := resp.PaymentRequest
		s.logger.Info("payment request created",
			zap.String("payment_request_id", pr.ID.String()),
			zap.String("student_id", pr.StudentID.String()),
			zap.String("account", pr.ReceivingAccountID),
			zap.String("total", pr.TotalAmount.String()),
			zap.Int("items", len(pr.Items)),
		)
	}

	return resp, nil
}

// releaseStaleHolder frees an obligation whose soft lock points at a request
// that can no longer claim it. A holder still inside its window makes the
// obligation unavailable. It returns the id of a holder it expired.
func (s *PaymentRequestService) releaseStaleHolder(ctx context.Context, tx repository.Repositories, o *domain.TuitionObligation, now time.Time) (uuid.UUID, error) {
	holderID := *o.PendingPaymentRequestID

	holder, err := tx.PaymentRequests().GetByIDForUpdate(ctx, holderID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, err
	}

	switch {
	case holder == nil || holder.IsTerminal():
		o.PendingPaymentRequestID = nil
		return uuid.Nil, nil
	case holder.IsExpiredAt(now):
		if err := expireTx(ctx, tx, holder, now); err != nil {
			return uuid.Nil, err
		}
		o.PendingPaymentRequestID = nil
		return holder.ID, nil
	default:
		return uuid.Nil, customError.WrapObligationUnavailable(o.ID, "locked by another payment request").
			WithDetail("holder_request_id", holder.ID.String()).
			WithDetail("holder_status", holder.Status)
	}
}

// pickTotal draws surcharge codes until base+code collides with no open
// request on the account.
func (s *PaymentRequestService) pickTotal(ctx context.Context, tx repository.Repositories, account string, base decimal.Decimal) (decimal.Decimal, int, error) {
	open, err := tx.PaymentRequests().ListOpenTotals(ctx, account)
	if err != nil {
		return decimal.Zero, 0, err
	}
	taken := make(map[string]struct{}, len(open))
	for _, t := range open {
		taken[t.StringFixed(2)] = struct{}{}
	}

	span := s.opts.CodeMax - s.opts.CodeMin + 1
	for attempt := 0; attempt < s.opts.CodeAttempts; attempt++ {
		code := s.opts.CodeMin + s.codes.Intn(span)
		total := base.Add(decimal.NewFromInt(int64(code)))
		if _, clash := taken[total.StringFixed(2)]; !clash {
			return total, code, nil
		}
	}

	s.logger.Warn("unique code space exhausted",
		zap.String("account", account),
		zap.String("base", base.String()),
		zap.Int("open_requests", len(open)),
	)
	return decimal.Zero, 0, customError.WrapDisambiguationExhausted(account, s.opts.CodeAttempts)
}

// Get returns a request as an observer sees it now: a PENDING request past
// its expiry reads as EXPIRED even before it is swept.
func (s *PaymentRequestService) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	pr, err := s.store.PaymentRequests().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, customError.WrapPaymentRequestNotFound(id)
		}
		return nil, customError.WrapDatabaseError(err)
	}
	pr.Status = pr.EffectiveStatus(s.clock.Now())
	return pr, nil
}

// ListLockedObligations returns the obligations currently soft-locked by a request.
func (s *PaymentRequestService) ListLockedObligations(ctx context.Context, id uuid.UUID) ([]*domain.TuitionObligation, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	obligations, err := s.store.Obligations().ListByPaymentRequest(ctx, id)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return obligations, nil
}

// Cancel withdraws a PENDING request that is still inside its window.
func (s *PaymentRequestService) Cancel(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	return s.transition(ctx, id, "cancel", func(ctx context.Context, tx repository.Repositories, pr *domain.PaymentRequest, now time.Time) error {
		if pr.Status != domain.PaymentRequestStatusPending {
			return customError.WrapInvalidTransition("payment request", pr.ID, pr.Status, "cancel")
		}
		pr.Status = domain.PaymentRequestStatusCancelled
		pr.UpdatedAt = now
		if err := tx.PaymentRequests().UpdateStatus(ctx, pr); err != nil {
			return err
		}
		_, err := tx.Obligations().ReleaseLocks(ctx, pr.ID)
		return err
	})
}

// BeginVerification moves a PENDING request into VERIFYING while an operator
// checks the transfer.
func (s *PaymentRequestService) BeginVerification(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	return s.transition(ctx, id, "verify", func(ctx context.Context, tx repository.Repositories, pr *domain.PaymentRequest, now time.Time) error {
		if pr.Status != domain.PaymentRequestStatusPending {
			return customError.WrapInvalidTransition("payment request", pr.ID, pr.Status, "verify")
		}
		pr.Status = domain.PaymentRequestStatusVerifying
		pr.UpdatedAt = now
		return tx.PaymentRequests().UpdateStatus(ctx, pr)
	})
}

// FailVerification closes a VERIFYING request whose transfer could not be
// matched and frees its obligations.
func (s *PaymentRequestService) FailVerification(ctx context.Context, id uuid.UUID, reason string) (*domain.PaymentRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, customError.WrapValidation("a failure reason is required")
	}

	return s.transition(ctx, id, "fail", func(ctx context.Context, tx repository.Repositories, pr *domain.PaymentRequest, now time.Time) error {
		if pr.Status != domain.PaymentRequestStatusVerifying {
			return customError.WrapInvalidTransition("payment request", pr.ID, pr.Status, "fail")
		}
		pr.Status = domain.PaymentRequestStatusFailed
		pr.FailureReason = &reason
		pr.UpdatedAt = now
		if err := tx.PaymentRequests().UpdateStatus(ctx, pr); err != nil {
			return err
		}
		_, err := tx.Obligations().ReleaseLocks(ctx, pr.ID)
		return err
	})
}

// Expire moves a PENDING request whose window has closed to EXPIRED.
func (s *PaymentRequestService) Expire(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	var pr *domain.PaymentRequest
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		pr = nil
		now := s.clock.Now()

		locked, err := s.lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if !locked.IsExpiredAt(now) {
			return customError.WrapInvalidTransition("payment request", locked.ID, locked.Status, "expire")
		}
		if err := expireTx(ctx, tx, locked, now); err != nil {
			return err
		}
		pr = locked
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}

	s.logger.Info("payment request expired", zap.String("payment_request_id", id.String()))
	return pr, nil
}

// ExpiredPending lists requests still stored as PENDING whose window has closed.
func (s *PaymentRequestService) ExpiredPending(ctx context.Context, limit int) ([]*domain.PaymentRequest, error) {
	requests, err := s.store.PaymentRequests().ListExpiredPending(ctx, s.clock.Now(), limit)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return requests, nil
}

// Settle marks the transfer as received and pays every item through the
// ledger in one transaction. If the obligations no longer match the request
// nothing is written.
func (s *PaymentRequestService) Settle(ctx context.Context, id uuid.UUID, receivingAccountID string) (*domain.SettleResult, error) {
	var (
		result  *domain.SettleResult
		outcome error
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		result, outcome = nil, nil
		now := s.clock.Now()

		pr, err := s.lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}

		switch {
		case pr.Status == domain.PaymentRequestStatusVerified:
			return customError.WrapAlreadySettled("payment request", pr.ID)
		case pr.IsExpiredAt(now):
			// the expiry is committed even though the call fails
			if err := expireTx(ctx, tx, pr, now); err != nil {
				return err
			}
			outcome = customError.WrapInvalidTransition("payment request", pr.ID, pr.Status, "settle")
			return nil
		case pr.Status != domain.PaymentRequestStatusPending && pr.Status != domain.PaymentRequestStatusVerifying:
			return customError.WrapInvalidTransition("payment request", pr.ID, pr.Status, "settle")
		}

		obligations, err := tx.Obligations().ListByIDsForUpdate(ctx, utils.UniqueSortedIDs(pr.ObligationIDs()))
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*domain.TuitionObligation, len(obligations))
		for _, o := range obligations {
			byID[o.ID] = o
		}

		for _, item := range pr.Items {
			o, ok := byID[item.ObligationID]
			switch {
			case !ok:
				return customError.WrapStaleRequest(pr.ID, fmt.Sprintf("obligation %s no longer exists", item.ObligationID))
			case !o.IsLockedBy(pr.ID):
				return customError.WrapStaleRequest(pr.ID, fmt.Sprintf("obligation %s is no longer locked by this request", o.ID))
			case o.IsPaid():
				return customError.WrapStaleRequest(pr.ID, fmt.Sprintf("obligation %s is already paid", o.ID))
			case item.AllocatedAmount.GreaterThan(o.Remaining()):
				return customError.WrapStaleRequest(pr.ID, fmt.Sprintf("allocation %s exceeds remaining %s on obligation %s",
					item.AllocatedAmount, o.Remaining(), o.ID))
			}
		}

		requestID := pr.ID
		res := &domain.SettleResult{
			Payments: make([]*domain.PaymentResult, 0, len(pr.Items)),
			Events:   make([]domain.ObligationSettledEvent, 0, len(pr.Items)),
		}
		for _, item := range pr.Items {
			o := byID[item.ObligationID]
			o.PendingPaymentRequestID = nil

			payment, err := applyPaymentTx(ctx, tx, o, paymentEntry{
				amount:    item.AllocatedAmount,
				actor:     domain.SystemActor,
				note:      fmt.Sprintf("payment request %s", pr.ID),
				requestID: &requestID,
				at:        now,
			})
			if err != nil {
				return err
			}
			// a revoke while the row was locked can leave it PARTIAL after the allocation lands
			if o.IsPaid() {
				event := domain.NewSettledEvent(o, item.AllocatedAmount, domain.SettlementSourcePaymentRequest, &requestID, now)
				payment.Events = []domain.ObligationSettledEvent{event}
				res.Events = append(res.Events, event)
			}
			res.Payments = append(res.Payments, payment)
		}

		account := strings.TrimSpace(receivingAccountID)
		if account == "" {
			account = pr.ReceivingAccountID
		}
		verifiedAt := now
		pr.Status = domain.PaymentRequestStatusVerified
		pr.SettledAccountID = &account
		pr.VerifiedAt = &verifiedAt
		pr.UpdatedAt = now
		if err := tx.PaymentRequests().UpdateStatus(ctx, pr); err != nil {
			return err
		}

		res.PaymentRequest = pr
		result = res
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}
	if outcome != nil {
		s.logger.Info("payment request expired lazily", zap.String("payment_request_id", id.String()))
		return nil, outcome
	}

	s.logger.Info("payment request settled",
		zap.String("payment_request_id", id.String()),
		zap.String("total", result.PaymentRequest.TotalAmount.String()),
		zap.String("settled_account", *result.PaymentRequest.SettledAccountID),
		zap.Int("obligations", len(result.Payments)),
	)
	publish(ctx, s.publisher, s.logger, result.Events)

	return result, nil
}

type transitionFunc func(ctx context.Context, tx repository.Repositories, pr *domain.PaymentRequest, now time.Time) error

// transition runs a lifecycle step on a locked request. A PENDING request
// found past its expiry is expired and committed first, and the step then
// fails as an invalid transition from EXPIRED.
func (s *PaymentRequestService) transition(ctx context.Context, id uuid.UUID, action string, fn transitionFunc) (*domain.PaymentRequest, error) {
	var (
		pr      *domain.PaymentRequest
		outcome error
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Repositories) error {
		pr, outcome = nil, nil
		now := s.clock.Now()

		locked, err := s.lockRequest(ctx, tx, id)
		if err != nil {
			return err
		}

		if locked.IsExpiredAt(now) {
			if err := expireTx(ctx, tx, locked, now); err != nil {
				return err
			}
			outcome = customError.WrapInvalidTransition("payment request", locked.ID, locked.Status, action)
			return nil
		}

		if err := fn(ctx, tx, locked, now); err != nil {
			return err
		}
		pr = locked
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}
	if outcome != nil {
		s.logger.Info("payment request expired lazily", zap.String("payment_request_id", id.String()))
		return nil, outcome
	}

	s.logger.Info("payment request transitioned",
		zap.String("payment_request_id", id.String()),
		zap.String("action", action),
		zap.String("status", pr.Status),
	)
	return pr, nil
}

func (s *PaymentRequestService) lockRequest(ctx context.Context, tx repository.Repositories, id uuid.UUID) (*domain.PaymentRequest, error) {
	pr, err := tx.PaymentRequests().GetByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, customError.WrapPaymentRequestNotFound(id)
		}
		return nil, err
	}
	return pr, nil
}

func expireTx(ctx context.Context, tx repository.Repositories, pr *domain.PaymentRequest, now time.Time) error {
	pr.Status = domain.PaymentRequestStatusExpired
	pr.UpdatedAt = now
	if err := tx.PaymentRequests().UpdateStatus(ctx, pr); err != nil {
		return err
	}
	_, err := tx.Obligations().ReleaseLocks(ctx, pr.ID)
	return err
}

// missingID returns the first requested id absent from found, or uuid.Nil.
func missingID(ids []uuid.UUID, found []*domain.TuitionObligation) uuid.UUID {
	have := make(map[uuid.UUID]struct{}, len(found))
	for _, o := range found {
		have[o.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			return id
		}
	}
	return uuid.Nil
}
