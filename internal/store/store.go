// Package store persists exam aggregates. Every write that can race with another
// (appending a submission, changing the status) is a single atomic conditional operation.
package store

import (
	"context"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
)

// ErrCodeTaken is returned by CreateExam when the exam code is already used by another exam.
var ErrCodeTaken = errors.New(errors.CodeAlreadyExists, errors.WithMessagef("exam code already taken"))

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

type Store interface {
	// CreateExam inserts a fully populated exam. Returns ErrCodeTaken on an exam code collision.
	CreateExam(ctx context.Context, e *domain.Exam) error

	GetByID(ctx context.Context, id string) (*domain.Exam, error)
	GetByCode(ctx context.Context, code string) (*domain.Exam, error)

	// ListByTeacher returns the exams created by the teacher, most recent first. Submissions are not loaded.
	ListByTeacher(ctx context.Context, teacherID string) ([]domain.Exam, error)

	// ListByStudentSubmission returns every exam the student submitted, paired with that submission only.
	ListByStudentSubmission(ctx context.Context, studentID string) ([]domain.StudentExam, error)

	// ReplaceDefinition overwrites title and questions, only while the exam is private.
	ReplaceDefinition(ctx context.Context, id string, d domain.Definition) (*domain.Exam, error)

	// SetStatus moves the exam from one status to another, failing with an invalid state error
	// when the current status is not from.
	SetStatus(ctx context.Context, id string, from, to domain.Status) (*domain.Exam, error)

	DeleteByID(ctx context.Context, id string) error

	// DeleteIfStatus deletes the exam only while it is in the given status.
	DeleteIfStatus(ctx context.Context, id string, st domain.Status) error

	// AppendSubmission records s for the exam only if the exam accepts submissions and the
	// student has none yet. The check and the write are one indivisible operation.
	AppendSubmission(ctx context.Context, examID string, s domain.Submission) (*domain.Exam, error)

	CodeExists(ctx context.Context, code string) (bool, error)
}

func examNotFound(id string) error {
	return errors.NotFound("exam not found: id=%s", id)
}

func codeNotFound(code string) error {
	return errors.NotFound("exam not found: code=%s", code)
}

func duplicateSubmission(examID, userID string) error {
	return errors.DuplicateSubmission("student already submitted this exam: exam=%s student=%s", examID, userID)
}

func notAcceptingSubmissions(examID string, st domain.Status) error {
	return errors.InvalidState("exam does not accept submissions: exam=%s status=%s", examID, st)
}

func notEditable(id string) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("only private exams can be edited"),
		errors.WithDetails(map[string]string{"exam_id": id}),
	)
}

func notDeletable(id string, st domain.Status) error {
	return errors.InvalidState("only %s exams can be deleted: id=%s", st, id)
}

func invalidTransition(id string, from, current domain.Status) error {
	return errors.InvalidState("exam is %s, expected %s: id=%s", current, from, id)
}
