package handler

import (
	"net/http"
	"strconv"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/pkg/response"
)

// FindObligations handles GET /obligations?student_id=&class_id=&period=&year=
func (h *TuitionHandler) FindObligations(w http.ResponseWriter, r *http.Request) {
	var filter domain.ObligationFilter
	var ok bool

	if filter.StudentID, ok = queryUUID(w, r, "student_id"); !ok {
		return
	}
	if filter.ClassID, ok = queryUUID(w, r, "class_id"); !ok {
		return
	}
	filter.PeriodLabel = r.URL.Query().Get("period")
	if raw := r.URL.Query().Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(w, "Invalid year", err)
			return
		}
		filter.PeriodYear = year
	}

	obligations, err := h.ledger.FindObligations(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, obligations)
}

func (h *TuitionHandler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateObligationRequest
	if !h.decode(w, r, &req, false) || !h.validate(w, &req) {
		return
	}

	o, err := h.ledger.CreateObligation(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, o)
}

func (h *TuitionHandler) GetObligation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	o, err := h.ledger.GetObligation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, o)
}

func (h *TuitionHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	records, err := h.ledger.ListPayments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, records)
}

// ApplyPayment handles a counter payment; the operator comes from X-Actor-ID.
func (h *TuitionHandler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req domain.ApplyPaymentRequest
	if !h.decode(w, r, &req, false) || !h.validate(w, &req) {
		return
	}

	result, err := h.ledger.ApplyPayment(r.Context(), id, actor(r), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, result)
}
