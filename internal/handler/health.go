package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/pkg/response"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

type HealthHandler struct {
	checks  []namedCheck
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthHandler(timeout time.Duration, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		timeout: timeout,
		logger:  logger,
	}
}

// WithCheck registers a readiness check under name.
func (h *HealthHandler) WithCheck(name string, check Check) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	sort.Slice(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
	return h
}

func DatabaseCheck(db *sqlx.DB) Check {
	return db.PingContext
}

func RedisCheck(client *redis.Client) Check {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health performs a basic liveness check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	response.Success(w, status)
}

// Ready runs every registered check, each bounded by the configured timeout.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := c.check(ctx)
		cancel()

		if err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", c.name), zap.Error(err))
			status.Status = "error"
			status.Checks[c.name] = "failed: " + err.Error()
			continue
		}
		status.Checks[c.name] = "ok"
	}

	if status.Status == "error" {
		response.JSON(w, http.StatusServiceUnavailable, status)
		return
	}

	response.Success(w, status)
}
