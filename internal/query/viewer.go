package query

import (
	"context"
	"fmt"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
	"github.com/victornm/examroom/internal/store"
)

// Viewer is the caller of a read path. Students and teachers see different projections of the
// same exams, and each variant owns its projection.
type Viewer interface {
	Identity() domain.Identity

	redact(e *domain.Exam) (*domain.Exam, error)
	myExams(ctx context.Context, st store.Store) ([]domain.ExamSummary, error)
	// own fails unless the viewer created the exam.
	own(e *domain.Exam) error
}

// NewViewer returns the viewer variant matching the identity's role.
func NewViewer(id domain.Identity) (Viewer, error) {
	switch id.Role {
	case domain.RoleStudent:
		return StudentViewer{id: id}, nil
	case domain.RoleTeacher:
		return TeacherViewer{id: id}, nil
	default:
		return nil, errors.Unauthenticated("unknown role: %q", id.Role)
	}
}

type StudentViewer struct {
	id domain.Identity
}

func (v StudentViewer) Identity() domain.Identity { return v.id }

// redact keeps the student's own submission only.
func (v StudentViewer) redact(e *domain.Exam) (*domain.Exam, error) {
	var own []domain.Submission
	if s, ok := e.Submission(v.id.UserID); ok {
		own = []domain.Submission{s}
	}

	e.Submissions = own
	return e, nil
}

func (v StudentViewer) myExams(ctx context.Context, st store.Store) ([]domain.ExamSummary, error) {
	exams, err := st.ListByStudentSubmission(ctx, v.id.UserID)
	if err != nil {
		return nil, fmt.Errorf("list submitted exams: %w", err)
	}

	res := make([]domain.ExamSummary, 0, len(exams))
	for _, se := range exams {
		score, at := se.Submission.Score, se.Submission.SubmittedAt
		res = append(res, domain.ExamSummary{
			ID:          se.Exam.ID,
			Title:       se.Exam.Title,
			Status:      se.Exam.Status,
			Score:       &score,
			SubmittedAt: &at,
		})
	}

	return res, nil
}

func (v StudentViewer) own(e *domain.Exam) error {
	return errors.Forbidden("students do not own exams: exam=%s user=%s", e.ID, v.id.UserID)
}

type TeacherViewer struct {
	id domain.Identity
}

func (v TeacherViewer) Identity() domain.Identity { return v.id }

func (v TeacherViewer) redact(e *domain.Exam) (*domain.Exam, error) {
	if err := v.own(e); err != nil {
		return nil, err
	}

	return e, nil
}

func (v TeacherViewer) myExams(ctx context.Context, st store.Store) ([]domain.ExamSummary, error) {
	exams, err := st.ListByTeacher(ctx, v.id.UserID)
	if err != nil {
		return nil, fmt.Errorf("list created exams: %w", err)
	}

	res := make([]domain.ExamSummary, 0, len(exams))
	for _, e := range exams {
		res = append(res, domain.ExamSummary{
			ID:        e.ID,
			Title:     e.Title,
			Status:    e.Status,
			CreatedAt: e.CreatedAt,
		})
	}

	return res, nil
}

func (v TeacherViewer) own(e *domain.Exam) error {
	if e.CreatedBy != v.id.UserID {
		return errors.Forbidden("exam is not owned by user: exam=%s user=%s", e.ID, v.id.UserID)
	}

	return nil
}
