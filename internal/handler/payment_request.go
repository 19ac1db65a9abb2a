package handler

import (
	"net/http"
	"strings"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/pkg/response"
)

// CreatePaymentRequest honours the Idempotency-Key header: a replay answers
// 200 with the original request instead of 201.
func (h *TuitionHandler) CreatePaymentRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePaymentRequestRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if !h.validate(w, &req) {
		return
	}

	resp, err := h.requests.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if resp.Replayed {
		response.Success(w, resp)
		return
	}
	response.Created(w, resp)
}

func (h *TuitionHandler) GetPaymentRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	pr, err := h.requests.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, pr)
}

func (h *TuitionHandler) ListLockedObligations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	obligations, err := h.requests.ListLockedObligations(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, obligations)
}

func (h *TuitionHandler) CancelPaymentRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	pr, err := h.requests.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, pr)
}

func (h *TuitionHandler) BeginVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	pr, err := h.requests.BeginVerification(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, pr)
}

func (h *TuitionHandler) FailVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req domain.FailPaymentRequestRequest
	if !h.decode(w, r, &req, false) || !h.validate(w, &req) {
		return
	}

	pr, err := h.requests.FailVerification(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, pr)
}

// SettlePaymentRequest is the admin "mark as received" action.
func (h *TuitionHandler) SettlePaymentRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req domain.SettlePaymentRequestRequest
	if !h.decode(w, r, &req, true) || !h.validate(w, &req) {
		return
	}

	result, err := h.requests.Settle(r.Context(), id, req.ReceivingAccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, result)
}
