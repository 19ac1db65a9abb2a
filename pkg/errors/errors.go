package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Error kinds. Every BusinessError wraps exactly one of these so callers can
// branch with errors.Is.
var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrAlreadySettled          = errors.New("already settled")
	ErrObligationUnavailable   = errors.New("obligation unavailable")
	ErrDisambiguationExhausted = errors.New("unique code space exhausted")
	ErrStaleRequest            = errors.New("stale payment request")
	ErrDuplicateGrant          = errors.New("duplicate scholarship grant")
	ErrRequestInProgress       = errors.New("request in progress")
	ErrDatabase                = errors.New("database error")
	ErrCache                   = errors.New("cache error")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail attaches a piece of current state for the caller.
func (e *BusinessError) WithDetail(key string, value interface{}) *BusinessError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// As extracts the BusinessError from an error chain.
func As(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Is reports whether err is of the given kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

// Error codes
const (
	ErrCodeValidation              = "VALIDATION_ERROR"
	ErrCodeInvalidAmount           = "INVALID_AMOUNT"
	ErrCodeOverpayment             = "OVERPAYMENT"
	ErrCodeDuplicateObligation     = "DUPLICATE_OBLIGATION"
	ErrCodeObligationNotFound      = "OBLIGATION_NOT_FOUND"
	ErrCodePaymentRequestNotFound  = "PAYMENT_REQUEST_NOT_FOUND"
	ErrCodeDiscountNotFound        = "DISCOUNT_NOT_FOUND"
	ErrCodeScholarshipNotFound     = "SCHOLARSHIP_NOT_FOUND"
	ErrCodeDiscountInactive        = "DISCOUNT_INACTIVE"
	ErrCodeInvalidTransition       = "INVALID_TRANSITION"
	ErrCodeAlreadySettled          = "ALREADY_SETTLED"
	ErrCodeObligationUnavailable   = "OBLIGATION_UNAVAILABLE"
	ErrCodeDisambiguationExhausted = "DISAMBIGUATION_EXHAUSTED"
	ErrCodeStaleRequest            = "STALE_REQUEST"
	ErrCodeDuplicateGrant          = "DUPLICATE_GRANT"
	ErrCodeRequestInProgress       = "REQUEST_IN_PROGRESS"
	ErrCodeDatabaseError           = "DATABASE_ERROR"
	ErrCodeCacheError              = "CACHE_ERROR"
)

// Wrap common errors with business context
func WrapValidation(message string) *BusinessError {
	return NewBusinessError(ErrCodeValidation, message, ErrValidation)
}

func WrapInvalidAmount(amount decimal.Decimal) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidAmount,
		fmt.Sprintf("Invalid amount: %s", amount.String()),
		ErrValidation,
	)
}

func WrapOverpayment(obligationID uuid.UUID, amount, remaining decimal.Decimal) *BusinessError {
	return NewBusinessError(
		ErrCodeOverpayment,
		fmt.Sprintf("Payment %s exceeds remaining %s on obligation %s", amount, remaining, obligationID),
		ErrValidation,
	).WithDetail("remaining", remaining.String())
}

func WrapDuplicateObligation(studentID uuid.UUID, period string, year int) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicateObligation,
		fmt.Sprintf("Student %s already has an obligation for %s %d in this class", studentID, period, year),
		ErrValidation,
	)
}

func WrapObligationNotFound(id uuid.UUID) *BusinessError {
	return NewBusinessError(
		ErrCodeObligationNotFound,
		fmt.Sprintf("Obligation with ID %s not found", id),
		ErrNotFound,
	)
}

func WrapPaymentRequestNotFound(id uuid.UUID) *BusinessError {
	return NewBusinessError(
		ErrCodePaymentRequestNotFound,
		fmt.Sprintf("Payment request with ID %s not found", id),
		ErrNotFound,
	)
}

func WrapDiscountNotFound(id uuid.UUID) *BusinessError {
	return NewBusinessError(
		ErrCodeDiscountNotFound,
		fmt.Sprintf("Discount with ID %s not found", id),
		ErrNotFound,
	)
}

func WrapScholarshipNotFound(id uuid.UUID) *BusinessError {
	return NewBusinessError(
		ErrCodeScholarshipNotFound,
		fmt.Sprintf("Scholarship with ID %s not found", id),
		ErrNotFound,
	)
}

func WrapDiscountInactive(id uuid.UUID) *BusinessError {
	return NewBusinessError(
		ErrCodeDiscountInactive,
		fmt.Sprintf("Discount with ID %s is not active", id),
		ErrValidation,
	)
}

func WrapInvalidTransition(entity string, id uuid.UUID, current, action string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidTransition,
		fmt.Sprintf("Cannot %s %s %s in status %s", action, entity, id, current),
		ErrInvalidTransition,
	).WithDetail("current_status", current)
}

func WrapAlreadySettled(entity string, id uuid.UUID) *BusinessError {
	return NewBusinessError(
		ErrCodeAlreadySettled,
		fmt.Sprintf("%s %s is already settled", entity, id),
		ErrAlreadySettled,
	)
}

func WrapObligationUnavailable(id uuid.UUID, reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeObligationUnavailable,
		fmt.Sprintf("Obligation %s is unavailable: %s", id, reason),
		ErrObligationUnavailable,
	).WithDetail("obligation_id", id.String())
}

func WrapDisambiguationExhausted(accountID string, attempts int) *BusinessError {
	return NewBusinessError(
		ErrCodeDisambiguationExhausted,
		fmt.Sprintf("No free unique code for account %s after %d attempts, retry later", accountID, attempts),
		ErrDisambiguationExhausted,
	)
}

func WrapStaleRequest(id uuid.UUID, reason string) *BusinessError {
	return NewBusinessError(
		ErrCodeStaleRequest,
		fmt.Sprintf("Payment request %s no longer matches its obligations: %s", id, reason),
		ErrStaleRequest,
	)
}

func WrapDuplicateGrant(studentID, classID uuid.UUID, name string) *BusinessError {
	return NewBusinessError(
		ErrCodeDuplicateGrant,
		fmt.Sprintf("Scholarship %q already granted to student %s in class %s", name, studentID, classID),
		ErrDuplicateGrant,
	)
}

func WrapRequestInProgress(key string) *BusinessError {
	return NewBusinessError(
		ErrCodeRequestInProgress,
		fmt.Sprintf("A request with idempotency key %s is still being processed", key),
		ErrRequestInProgress,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		fmt.Errorf("%w: %v", ErrDatabase, err),
	)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeCacheError,
		"Cache operation failed",
		fmt.Errorf("%w: %v", ErrCache, err),
	)
}
