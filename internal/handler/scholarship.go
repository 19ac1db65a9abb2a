package handler

import (
	"net/http"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/pkg/response"
)

func (h *TuitionHandler) ListScholarships(w http.ResponseWriter, r *http.Request) {
	studentID, ok := queryUUID(w, r, "student_id")
	if !ok {
		return
	}
	classID, ok := queryUUID(w, r, "class_id")
	if !ok {
		return
	}
	if studentID == nil || classID == nil {
		response.BadRequest(w, "student_id and class_id are required", nil)
		return
	}

	grants, err := h.scholarships.List(r.Context(), *studentID, *classID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, grants)
}

func (h *TuitionHandler) GrantScholarship(w http.ResponseWriter, r *http.Request) {
	var req domain.GrantScholarshipRequest
	if !h.decode(w, r, &req, false) || !h.validate(w, &req) {
		return
	}
	req.Actor = actor(r)

	result, err := h.scholarships.Grant(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, result)
}

const maxBulkRows = 1000

// GrantScholarships handles an import batch sent as a JSON array. Rows are
// validated by the service one by one so a bad row does not reject the batch.
func (h *TuitionHandler) GrantScholarships(w http.ResponseWriter, r *http.Request) {
	var rows []*domain.GrantScholarshipRequest
	if !h.decode(w, r, &rows, false) {
		return
	}
	if len(rows) == 0 || len(rows) > maxBulkRows {
		response.BadRequest(w, "Batch must hold between 1 and 1000 rows", nil)
		return
	}

	by := actor(r)
	for i := range rows {
		if rows[i] == nil {
			rows[i] = &domain.GrantScholarshipRequest{}
		}
		rows[i].Actor = by
	}

	result, err := h.scholarships.GrantBulk(r.Context(), rows)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, result)
}

func (h *TuitionHandler) RevokeScholarship(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.scholarships.Revoke(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, result)
}
