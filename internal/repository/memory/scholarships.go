package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/segyhp/tuition-engine/internal/domain"
	"github.com/segyhp/tuition-engine/internal/repository"
)

type scholarshipRepository struct {
	*repos
}

func (r *scholarshipRepository) Create(ctx context.Context, s *domain.Scholarship) error {
	cp := *s
	return r.view(func(st *state) error {
		for _, other := range st.scholarships {
			if other.StudentID == s.StudentID && other.ClassID == s.ClassID && strings.EqualFold(other.Name, s.Name) {
				return repository.ErrDuplicateGrant
			}
		}
		st.scholarships[s.ID] = &cp
		return nil
	})
}

// LockPair is a no-op: transactions on the memory store are already serialised.
func (r *scholarshipRepository) LockPair(ctx context.Context, studentID, classID uuid.UUID) error {
	return nil
}

func (r *scholarshipRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Scholarship, error) {
	var out *domain.Scholarship
	err := r.view(func(st *state) error {
		s, ok := st.scholarships[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := *s
		out = &cp
		return nil
	})
	return out, err
}

func (r *scholarshipRepository) ListByStudentClass(ctx context.Context, studentID, classID uuid.UUID) ([]*domain.Scholarship, error) {
	out := []*domain.Scholarship{}
	err := r.view(func(st *state) error {
		for _, s := range st.scholarships {
			if s.StudentID == studentID && s.ClassID == classID {
				cp := *s
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (r *scholarshipRepository) ExistsByName(ctx context.Context, studentID, classID uuid.UUID, name string) (bool, error) {
	exists := false
	err := r.view(func(st *state) error {
		for _, s := range st.scholarships {
			if s.StudentID == studentID && s.ClassID == classID && strings.EqualFold(s.Name, name) {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (r *scholarshipRepository) SetFullFlag(ctx context.Context, studentID, classID uuid.UUID, full bool) error {
	return r.view(func(st *state) error {
		for _, s := range st.scholarships {
			if s.StudentID == studentID && s.ClassID == classID {
				s.IsFullScholarship = full
			}
		}
		return nil
	})
}

func (r *scholarshipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.view(func(st *state) error {
		if _, ok := st.scholarships[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.scholarships, id)
		return nil
	})
}
