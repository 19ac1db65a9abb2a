package handler

import (
	"net/http"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/pkg/response"
)

func (h *TuitionHandler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.discounts.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, discounts)
}

func (h *TuitionHandler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDiscountRequest
	if !h.decode(w, r, &req, false) || !h.validate(w, &req) {
		return
	}

	d, err := h.discounts.Create(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, d)
}

func (h *TuitionHandler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.discounts.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, d)
}

func (h *TuitionHandler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req domain.UpdateDiscountRequest
	if !h.decode(w, r, &req, false) || !h.validate(w, &req) {
		return
	}

	d, err := h.discounts.Update(r.Context(), id, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, d)
}

// PreviewDiscount is the dry-run half of applying a discount.
func (h *TuitionHandler) PreviewDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	preview, err := h.discounts.PreviewApply(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, preview)
}

func (h *TuitionHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.discounts.CommitApply(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, result)
}

func (h *TuitionHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.discounts.Remove(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, result)
}
