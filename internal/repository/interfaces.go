package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/tuition-engine/internal/domain"
)

// ErrNotFound is returned when a single-row lookup finds nothing.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateTotal is returned when a non-terminal payment request with the
// same receiving account and total amount already exists.
var ErrDuplicateTotal = errors.New("duplicate pending total")

// ErrDuplicateObligation is returned when the student already has an
// obligation for the same class and period.
var ErrDuplicateObligation = errors.New("duplicate obligation period")

// ErrDuplicateGrant is returned when the pair already holds a grant with the same name.
var ErrDuplicateGrant = errors.New("duplicate scholarship name")

// ErrDuplicateIdempotencyKey is returned when the student already created a
// payment request under the same idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// Store is the persistence boundary of the ledger.
type Store interface {
	Repositories

	// WithTx runs fn inside one atomic transaction. Any error returned by fn
	// rolls every write back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

// Repositories groups the repositories bound to either the pool or a transaction.
type Repositories interface {
	Obligations() ObligationRepository
	Payments() PaymentRepository
	Scholarships() ScholarshipRepository
	Discounts() DiscountRepository
	PaymentRequests() PaymentRequestRepository
}

// ObligationRepository defines the interface for tuition obligation data operations.
// Methods suffixed ForUpdate take row locks and are only meaningful inside WithTx.
type ObligationRepository interface {
	// Create creates a new obligation
	Create(ctx context.Context, obligation *domain.TuitionObligation) error

	// GetByID retrieves an obligation by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TuitionObligation, error)

	// GetByIDForUpdate retrieves and locks an obligation
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.TuitionObligation, error)

	// ListByIDsForUpdate locks the given obligations in id order; missing ids are omitted
	ListByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]*domain.TuitionObligation, error)

	// Find lists obligations matching the filter
	Find(ctx context.Context, filter domain.ObligationFilter) ([]*domain.TuitionObligation, error)

	// ListByStudentClassForUpdate locks every obligation of a student in a class
	ListByStudentClassForUpdate(ctx context.Context, studentID, classID uuid.UUID) ([]*domain.TuitionObligation, error)

	// ListByPaymentRequest lists obligations soft-locked by a payment request
	ListByPaymentRequest(ctx context.Context, requestID uuid.UUID) ([]*domain.TuitionObligation, error)

	// ListForDiscountScope lists obligations in scope (nil class = every class) whose period is one of periods
	ListForDiscountScope(ctx context.Context, classID *uuid.UUID, periods []string, forUpdate bool) ([]*domain.TuitionObligation, error)

	// ListByDiscountForUpdate locks every obligation referencing a discount
	ListByDiscountForUpdate(ctx context.Context, discountID uuid.UUID) ([]*domain.TuitionObligation, error)

	// GetClassPeriodFee returns the fee of the most recent obligation of a class; ok is false when the class has none
	GetClassPeriodFee(ctx context.Context, classID uuid.UUID) (fee decimal.Decimal, ok bool, err error)

	// Update writes every mutable ledger field of an obligation
	Update(ctx context.Context, obligation *domain.TuitionObligation) error

	// ReleaseLocks clears soft locks pointing at a payment request and returns how many were cleared
	ReleaseLocks(ctx context.Context, requestID uuid.UUID) (int, error)
}

// PaymentRepository defines the interface for payment record operations
type PaymentRepository interface {
	// Create inserts a payment record
	Create(ctx context.Context, record *domain.PaymentRecord) error

	// ListByObligation lists payment records of an obligation, oldest first
	ListByObligation(ctx context.Context, obligationID uuid.UUID) ([]*domain.PaymentRecord, error)
}

// ScholarshipRepository defines the interface for scholarship grant operations
type ScholarshipRepository interface {
	// LockPair serialises scholarship and obligation writes of one student+class until the transaction ends
	LockPair(ctx context.Context, studentID, classID uuid.UUID) error

	Create(ctx context.Context, scholarship *domain.Scholarship) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.Scholarship, error)

	// ListByStudentClass lists grants of a student in a class, oldest first
	ListByStudentClass(ctx context.Context, studentID, classID uuid.UUID) ([]*domain.Scholarship, error)

	// ExistsByName reports whether a grant with the same name exists for the pair
	ExistsByName(ctx context.Context, studentID, classID uuid.UUID, name string) (bool, error)

	// SetFullFlag rewrites the full-scholarship flag on every grant of the pair
	SetFullFlag(ctx context.Context, studentID, classID uuid.UUID, full bool) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// DiscountRepository defines the interface for discount campaign operations
type DiscountRepository interface {
	Create(ctx context.Context, discount *domain.Discount) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.Discount, error)

	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Discount, error)

	List(ctx context.Context) ([]*domain.Discount, error)

	Update(ctx context.Context, discount *domain.Discount) error

	Delete(ctx context.Context, id uuid.UUID) error
}

// PaymentRequestRepository defines the interface for payment request operations
type PaymentRequestRepository interface {
	// Create inserts a request together with its items
	Create(ctx context.Context, request *domain.PaymentRequest) error

	// GetByID retrieves a request with its items
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error)

	// GetByIDForUpdate retrieves and locks a request with its items
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error)

	// GetByIdempotencyKey finds the request a student created under a key
	GetByIdempotencyKey(ctx context.Context, studentID uuid.UUID, key string) (*domain.PaymentRequest, error)

	// LockAccount serialises request creation per receiving account until the transaction ends
	LockAccount(ctx context.Context, accountID string) error

	// ListOpenTotals returns total amounts of non-terminal requests on an account
	ListOpenTotals(ctx context.Context, accountID string) ([]decimal.Decimal, error)

	// ListExpiredPending lists PENDING requests whose expiry is at or before now
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentRequest, error)

	// UpdateStatus writes the lifecycle fields of a request
	UpdateStatus(ctx context.Context, request *domain.PaymentRequest) error
}
