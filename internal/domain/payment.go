package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemActor is the reserved actor for payments the engine records on its own.
const SystemActor = "system"

// PaymentRecord is an immutable settlement increment against one obligation.
type PaymentRecord struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	ObligationID     uuid.UUID       `json:"obligation_id" db:"obligation_id"`
	PaymentRequestID *uuid.UUID      `json:"payment_request_id,omitempty" db:"payment_request_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Actor            string          `json:"actor" db:"actor"`
	Note             string          `json:"note" db:"note"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}
