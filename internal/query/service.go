// Package query serves the read side: viewer-scoped exam details, exam code checks, dashboards
// and result analysis.
package query

import (
	"context"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
	"github.com/victornm/examroom/internal/store"
)

type Config struct {
	Store store.Store
}

type Service struct {
	store store.Store
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
	}
}

// GetExamForViewer returns the exam redacted for the viewer.
func (s *Service) GetExamForViewer(ctx context.Context, examID string, v Viewer) (*domain.Exam, error) {
	e, err := s.store.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	return v.redact(e)
}

// ValidateCode resolves an exam code to the exam a student may start now.
func (s *Service) ValidateCode(ctx context.Context, code string, v Viewer) (string, error) {
	id := v.Identity()
	if id.Role != domain.RoleStudent {
		return "", errors.Forbidden("only students can join exams")
	}

	e, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}

	switch e.Status {
	case domain.StatusPrivate:
		return "", errors.InvalidState("exam has not started yet: code=%s", code)
	case domain.StatusDone:
		return "", errors.InvalidState("exam has already finished: code=%s", code)
	}

	if e.HasSubmission(id.UserID) {
		return "", errors.DuplicateSubmission("student already submitted this exam: exam=%s student=%s", e.ID, id.UserID)
	}

	return e.ID, nil
}

// MyExams lists the exams a teacher created or a student submitted.
func (s *Service) MyExams(ctx context.Context, v Viewer) ([]domain.ExamSummary, error) {
	return v.myExams(ctx, s.store)
}

// ExamForOwner returns the full exam, failing unless the viewer created it.
func (s *Service) ExamForOwner(ctx context.Context, examID string, v Viewer) (*domain.Exam, error) {
	e, err := s.store.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	if err := v.own(e); err != nil {
		return nil, err
	}

	return e, nil
}

// Analysis computes the results analysis of an exam for its owner.
func (s *Service) Analysis(ctx context.Context, examID string, v Viewer) (*Analysis, error) {
	e, err := s.ExamForOwner(ctx, examID, v)
	if err != nil {
		return nil, err
	}

	return Analyze(e), nil
}
