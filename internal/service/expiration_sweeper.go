package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/domain"
	customError "github.com/segyhp/tuition-engine/pkg/errors"
)

// RequestExpirer is the part of the payment request lifecycle the sweeper drives.
type RequestExpirer interface {
	ExpiredPending(ctx context.Context, limit int) ([]*domain.PaymentRequest, error)
	Expire(ctx context.Context, id uuid.UUID) (*domain.PaymentRequest, error)
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ExpirationSweeper closes payment requests whose window has run out and
// frees the obligations they were holding.
type ExpirationSweeper struct {
	expirer   RequestExpirer
	batchSize int
	logger    *zap.Logger
}

func NewExpirationSweeper(expirer RequestExpirer, batchSize int, logger *zap.Logger) *ExpirationSweeper {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &ExpirationSweeper{
		expirer:   expirer,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Sweep expires one batch. Each request is expired in its own transaction;
// a failure is logged and the sweep moves on. A request that changed state
// since it was listed is skipped.
func (s *ExpirationSweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	requests, err := s.expirer.ExpiredPending(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Scanned: len(requests)}
	for _, pr := range requests {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, err := s.expirer.Expire(ctx, pr.ID)
		switch {
		case err == nil:
			result.Expired++
		case customError.Is(err, customError.ErrInvalidTransition):
			result.Skipped++
		default:
			result.Failed++
			s.logger.Error("failed to expire payment request",
				zap.String("payment_request_id", pr.ID.String()),
				zap.Error(err),
			)
		}
	}

	if result.Scanned > 0 {
		s.logger.Info("expiration sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("expired", result.Expired),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}

	return result, nil
}
