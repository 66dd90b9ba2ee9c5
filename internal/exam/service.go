// Package exam enforces the exam lifecycle: private -> in_progress -> done.
package exam

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
	"github.com/victornm/examroom/internal/event"
	"github.com/victornm/examroom/internal/store"
	"github.com/victornm/examroom/internal/telemetry"
)

const maxCodeAttempts = 3

type CodeGenerator interface {
	Generate(ctx context.Context) (string, error)
	Release(ctx context.Context, code string) error
}

type Config struct {
	Store    store.Store
	Codes    CodeGenerator
	EventBus *event.Bus
	Now      func() time.Time
}

type Service struct {
	store store.Store
	codes CodeGenerator
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		codes: c.Codes,
		eb:    c.EventBus,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type CreateExamRequest struct {
	Teacher    domain.Identity
	Definition domain.Definition
}

// CreateExam stores a new private exam with a freshly generated exam code.
func (s *Service) CreateExam(ctx context.Context, req CreateExamRequest) (*domain.Exam, error) {
	if req.Teacher.Role != domain.RoleTeacher {
		return nil, errors.Forbidden("only teachers can create exams")
	}

	if err := req.Definition.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate exam ID: %w", err)
	}

	e := &domain.Exam{
		ID:        id.String(),
		Title:     req.Definition.Title,
		Questions: req.Definition.Questions,
		CreatedBy: req.Teacher.UserID,
		CreatedAt: s.now().UTC(),
		Status:    domain.StatusPrivate,
	}

	if err := s.insertExam(ctx, e); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "exam: created", "exam_id", e.ID, "exam_code", e.ExamCode, "teacher", e.CreatedBy)
	telemetry.LifecycleTransitions.WithLabelValues("create").Inc()
	s.eb.Publish(ctx, domain.EventExamCreated{Exam: *e})

	return e, nil
}

// insertExam retries on exam code collisions, which can only happen when the store already
// holds a code the generator did not know about.
func (s *Service) insertExam(ctx context.Context, e *domain.Exam) error {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return fmt.Errorf("generate exam code: %w", err)
		}
		e.ExamCode = code

		err = s.store.CreateExam(ctx, e)
		if err != nil {
			s.releaseCode(ctx, code)
		}
		if stderrors.Is(err, store.ErrCodeTaken) {
			slog.WarnContext(ctx, "exam: code collision, retrying", "exam_code", code)
			continue
		}
		if err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}

		return nil
	}

	return errors.Internal(fmt.Errorf("exam code collision after %d attempts", maxCodeAttempts))
}

type EditExamRequest struct {
	Teacher    domain.Identity
	ExamID     string
	Definition domain.Definition
}

// EditExam replaces title and questions of a private exam. Nothing else is touched.
func (s *Service) EditExam(ctx context.Context, req EditExamRequest) (*domain.Exam, error) {
	owned, err := s.ownedExam(ctx, req.Teacher, req.ExamID)
	if err != nil {
		return nil, err
	}

	if owned.Status != domain.StatusPrivate {
		return nil, errors.InvalidState("only private exams can be edited")
	}

	if err := req.Definition.Validate(); err != nil {
		return nil, err
	}

	e, err := s.store.ReplaceDefinition(ctx, req.ExamID, req.Definition)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "exam: edited", "exam_id", e.ID)
	telemetry.LifecycleTransitions.WithLabelValues("edit").Inc()

	return e, nil
}

type TransitionRequest struct {
	Teacher domain.Identity
	ExamID  string
}

// PublishExam opens a private exam for submissions. Publishing twice is rejected.
func (s *Service) PublishExam(ctx context.Context, req TransitionRequest) (*domain.Exam, error) {
	e, err := s.transition(ctx, req, domain.StatusPrivate, domain.StatusInProgress)
	if err != nil {
		return nil, err
	}

	telemetry.LifecycleTransitions.WithLabelValues("publish").Inc()
	s.eb.Publish(ctx, domain.EventExamPublished{Exam: *e})

	return e, nil
}

// FinishExam closes an exam in progress for good.
func (s *Service) FinishExam(ctx context.Context, req TransitionRequest) (*domain.Exam, error) {
	e, err := s.transition(ctx, req, domain.StatusInProgress, domain.StatusDone)
	if err != nil {
		return nil, err
	}

	telemetry.LifecycleTransitions.WithLabelValues("finish").Inc()
	s.eb.Publish(ctx, domain.EventExamFinished{Exam: *e})

	return e, nil
}

func (s *Service) transition(ctx context.Context, req TransitionRequest, from, to domain.Status) (*domain.Exam, error) {
	if _, err := s.ownedExam(ctx, req.Teacher, req.ExamID); err != nil {
		return nil, err
	}

	e, err := s.store.SetStatus(ctx, req.ExamID, from, to)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "exam: status changed", "exam_id", e.ID, "from", from, "to", to)
	return e, nil
}

// DeleteExam removes a private exam. Exams that were ever published keep their submissions.
func (s *Service) DeleteExam(ctx context.Context, req TransitionRequest) error {
	e, err := s.ownedExam(ctx, req.Teacher, req.ExamID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteIfStatus(ctx, req.ExamID, domain.StatusPrivate); err != nil {
		return err
	}

	s.releaseCode(ctx, e.ExamCode)

	slog.InfoContext(ctx, "exam: deleted", "exam_id", e.ID)
	telemetry.LifecycleTransitions.WithLabelValues("delete").Inc()
	s.eb.Publish(ctx, domain.EventExamDeleted{ExamID: e.ID, CreatedBy: e.CreatedBy})

	return nil
}

// releaseCode frees a code reservation. A failed release only keeps the code out of circulation.
func (s *Service) releaseCode(ctx context.Context, code string) {
	if err := s.codes.Release(ctx, code); err != nil {
		slog.WarnContext(ctx, "exam: release code failed", "exam_code", code, "error", err)
	}
}

func (s *Service) ownedExam(ctx context.Context, teacher domain.Identity, examID string) (*domain.Exam, error) {
	e, err := s.store.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	if teacher.Role != domain.RoleTeacher || e.CreatedBy != teacher.UserID {
		return nil, errors.Forbidden("exam is not owned by user: exam=%s user=%s", examID, teacher.UserID)
	}

	return e, nil
}
