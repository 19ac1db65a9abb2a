// Package idempotency guards commands against duplicate submission.
//
// A key moves through two states: reserved ("pending") while the first
// caller is working, then done with the id of the resource it produced.
// Releasing a key lets the next caller start over.
package idempotency

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

type State int

const (
	// StateNew means the caller now owns the key and must Complete or Release it.
	StateNew State = iota
	// StatePending means another caller holds the key and has not finished.
	StatePending
	// StateDone means the key was completed; ResourceID is the original result.
	StateDone
)

const (
	pendingValue = "pending"
	donePrefix   = "done:"
)

var ErrMalformedValue = errors.New("malformed idempotency value")

type Reservation struct {
	State      State
	ResourceID uuid.UUID
}

type Store interface {
	Reserve(ctx context.Context, key string) (Reservation, error)
	Complete(ctx context.Context, key string, resourceID uuid.UUID) error
	Release(ctx context.Context, key string) error
}

func decode(value string) (Reservation, error) {
	if value == pendingValue {
		return Reservation{State: StatePending}, nil
	}
	if !strings.HasPrefix(value, donePrefix) {
		return Reservation{}, ErrMalformedValue
	}
	id, err := uuid.Parse(strings.TrimPrefix(value, donePrefix))
	if err != nil {
		return Reservation{}, ErrMalformedValue
	}
	return Reservation{State: StateDone, ResourceID: id}, nil
}
