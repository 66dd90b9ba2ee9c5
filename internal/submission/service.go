// Package submission scores a student's answers and records them at most once per exam.
package submission

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
	"github.com/victornm/examroom/internal/event"
	"github.com/victornm/examroom/internal/store"
	"github.com/victornm/examroom/internal/telemetry"
)

const outcomeRecorded = "recorded"

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Now      func() time.Time
}

type Service struct {
	store store.Store
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type SubmitRequest struct {
	ExamID  string
	Student domain.Identity
	Answers []int
}

// Submit scores the answers and records the submission. A returned submission is durably stored.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Submission, error) {
	sub, err := s.submit(ctx, req)
	if err != nil {
		telemetry.Submissions.WithLabelValues(errors.Convert(err).Kind()).Inc()
		return nil, err
	}

	telemetry.Submissions.WithLabelValues(outcomeRecorded).Inc()
	return sub, nil
}

type SubmitEmptyRequest struct {
	ExamID  string
	Student domain.Identity
}

// SubmitEmpty records a zero-score submission for a student who abandoned the exam.
func (s *Service) SubmitEmpty(ctx context.Context, req SubmitEmptyRequest) (*domain.Submission, error) {
	return s.Submit(ctx, SubmitRequest{
		ExamID:  req.ExamID,
		Student: req.Student,
	})
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (*domain.Submission, error) {
	if req.Student.Role != domain.RoleStudent {
		return nil, errors.Forbidden("only students can submit exams")
	}

	e, err := s.store.GetByID(ctx, req.ExamID)
	if err != nil {
		return nil, transient(ctx, err, "load exam")
	}

	if e.Status != domain.StatusInProgress {
		return nil, errors.InvalidState("exam does not accept submissions: exam=%s status=%s", e.ID, e.Status)
	}

	answers := Normalize(e.Questions, req.Answers)
	sub := domain.Submission{
		UserID:      req.Student.UserID,
		Answers:     answers,
		SubmittedAt: s.now().UTC(),
		Score:       Score(e.Questions, answers),
	}

	// The store re-checks status and duplicates atomically; the exam may have changed since it was read.
	if _, err := s.store.AppendSubmission(ctx, e.ID, sub); err != nil {
		if errors.Is(err, errors.CodeAlreadyExists) {
			slog.InfoContext(ctx, "submission: duplicate rejected", "exam_id", e.ID, "student", sub.UserID)
		}
		return nil, transient(ctx, err, "record submission")
	}

	slog.InfoContext(ctx, "submission: recorded", "exam_id", e.ID, "student", sub.UserID, "score", sub.Score)
	s.eb.Publish(ctx, domain.EventSubmissionRecorded{
		ExamID:     e.ID,
		ExamOwner:  e.CreatedBy,
		Submission: sub,
	})

	return &sub, nil
}

// transient keeps caller-facing errors as they are and reports everything else as a fault the
// client may retry explicitly.
func transient(ctx context.Context, err error, op string) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}

	slog.ErrorContext(ctx, "submission: "+op+" failed", "error", err)
	return errors.Unavailable(err, "%s failed, please retry", op)
}
