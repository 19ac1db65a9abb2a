package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/tuition-engine/internal/service"
	customError "github.com/segyhp/tuition-engine/pkg/errors"
	"github.com/segyhp/tuition-engine/pkg/response"
)

const (
	actorHeader          = "X-Actor-ID"
	idempotencyKeyHeader = "Idempotency-Key"
)

// TuitionHandler exposes the ledger over HTTP.
type TuitionHandler struct {
	ledger       *service.LedgerService
	scholarships *service.ScholarshipService
	discounts    *service.DiscountService
	requests     *service.PaymentRequestService
	validator    *validator.Validate
	logger       *zap.Logger
}

func NewTuitionHandler(
	ledger *service.LedgerService,
	scholarships *service.ScholarshipService,
	discounts *service.DiscountService,
	requests *service.PaymentRequestService,
	logger *zap.Logger,
) *TuitionHandler {
	return &TuitionHandler{
		ledger:       ledger,
		scholarships: scholarships,
		discounts:    discounts,
		requests:     requests,
		validator:    NewValidator(),
		logger:       logger,
	}
}

// NewValidator returns a validator that understands decimal amounts and uuids.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if id, ok := field.Interface().(uuid.UUID); ok && id != uuid.Nil {
			return id.String()
		}
		return ""
	}, uuid.UUID{})
	return v
}

// RegisterRoutes mounts every ledger route under router.
func (h *TuitionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/obligations", h.FindObligations).Methods("GET")
	router.HandleFunc("/obligations", h.CreateObligation).Methods("POST")
	router.HandleFunc("/obligations/{id}", h.GetObligation).Methods("GET")
	router.HandleFunc("/obligations/{id}/payments", h.ListPayments).Methods("GET")
	router.HandleFunc("/obligations/{id}/payments", h.ApplyPayment).Methods("POST")

	router.HandleFunc("/scholarships", h.ListScholarships).Methods("GET")
	router.HandleFunc("/scholarships", h.GrantScholarship).Methods("POST")
	router.HandleFunc("/scholarships/bulk", h.GrantScholarships).Methods("POST")
	router.HandleFunc("/scholarships/{id}", h.RevokeScholarship).Methods("DELETE")

	router.HandleFunc("/discounts", h.ListDiscounts).Methods("GET")
	router.HandleFunc("/discounts", h.CreateDiscount).Methods("POST")
	router.HandleFunc("/discounts/{id}", h.GetDiscount).Methods("GET")
	router.HandleFunc("/discounts/{id}", h.UpdateDiscount).Methods("PUT")
	router.HandleFunc("/discounts/{id}", h.RemoveDiscount).Methods("DELETE")
	router.HandleFunc("/discounts/{id}/preview", h.PreviewDiscount).Methods("GET")
	router.HandleFunc("/discounts/{id}/apply", h.ApplyDiscount).Methods("POST")

	router.HandleFunc("/payment-requests", h.CreatePaymentRequest).Methods("POST")
	router.HandleFunc("/payment-requests/{id}", h.GetPaymentRequest).Methods("GET")
	router.HandleFunc("/payment-requests/{id}/obligations", h.ListLockedObligations).Methods("GET")
	router.HandleFunc("/payment-requests/{id}/cancel", h.CancelPaymentRequest).Methods("POST")
	router.HandleFunc("/payment-requests/{id}/verify", h.BeginVerification).Methods("POST")
	router.HandleFunc("/payment-requests/{id}/fail", h.FailVerification).Methods("POST")
	router.HandleFunc("/payment-requests/{id}/settle", h.SettlePaymentRequest).Methods("POST")
}

// decode reads a JSON body into dst. An empty body is accepted when optional is set.
func (h *TuitionHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		response.BadRequest(w, "Invalid request body", err)
		return false
	}
	return true
}

func (h *TuitionHandler) validate(w http.ResponseWriter, v interface{}) bool {
	if err := h.validator.Struct(v); err != nil {
		response.Coded(w, http.StatusBadRequest, customError.ErrCodeValidation, validationMessage(err), nil)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed on "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// pathID parses the {id} route variable.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.BadRequest(w, "Invalid id", err)
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(w, "Invalid "+name, err)
		return nil, false
	}
	return &id, true
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

// writeError maps error kinds onto HTTP statuses.
func (h *TuitionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	be, ok := customError.As(err)
	if !ok {
		h.logger.Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		response.InternalServerError(w, "Internal server error", nil)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, customError.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, customError.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, customError.ErrInvalidTransition),
		errors.Is(err, customError.ErrObligationUnavailable),
		errors.Is(err, customError.ErrAlreadySettled),
		errors.Is(err, customError.ErrStaleRequest),
		errors.Is(err, customError.ErrDuplicateGrant),
		errors.Is(err, customError.ErrRequestInProgress):
		status = http.StatusConflict
	case errors.Is(err, customError.ErrDisambiguationExhausted),
		errors.Is(err, customError.ErrCache):
		w.Header().Set("Retry-After", "1")
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		response.Coded(w, status, be.Code, be.Message, nil)
		return
	}

	response.Coded(w, status, be.Code, be.Message, be.Details)
}
