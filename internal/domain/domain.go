package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NoAnswer marks a question the student left unanswered.
const NoAnswer = -1

// CorrectOption is the index of the correct option of every question.
const CorrectOption = 0

type Status string

const (
	StatusPrivate    Status = "private"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Identity is the authenticated caller as claimed by the identity provider.
type Identity struct {
	UserID string
	Role   Role
}

// Exam is the aggregate root: the definition, its lifecycle status and every submission made to it.
type Exam struct {
	ID          string
	Title       string
	Questions   []Question
	CreatedBy   string
	CreatedAt   time.Time
	ExamCode    string
	Status      Status
	Submissions []Submission
}

// Question is a multiple-choice question. Options[0] is always the correct answer.
type Question struct {
	Description string          `json:"description" validate:"required,notblank"`
	Options     []string        `json:"options" validate:"min=2,dive,required,notblank"`
	Points      decimal.Decimal `json:"points"`
}

// Submission is one student's answers for one exam. At most one exists per student per exam.
type Submission struct {
	UserID      string
	Answers     []int
	SubmittedAt time.Time
	Score       int
}

// Definition is the teacher-editable part of an exam.
type Definition struct {
	Title     string     `json:"title" validate:"required,notblank,max=40"`
	Questions []Question `json:"questions" validate:"min=1,dive"`
}

func (e *Exam) Definition() Definition {
	return Definition{
		Title:     e.Title,
		Questions: e.Questions,
	}
}

// Submission returns the submission of the given student, if any.
func (e *Exam) Submission(userID string) (Submission, bool) {
	for _, s := range e.Submissions {
		if s.UserID == userID {
			return s, true
		}
	}

	return Submission{}, false
}

func (e *Exam) HasSubmission(userID string) bool {
	_, ok := e.Submission(userID)
	return ok
}

// TotalPoints returns the sum of all question points.
func (e *Exam) TotalPoints() decimal.Decimal {
	total := decimal.Zero
	for _, q := range e.Questions {
		total = total.Add(q.Points)
	}

	return total
}

// ExamSummary is the projection listed on a user's dashboard.
// Teachers get Status and CreatedAt, students get their own Score and SubmittedAt.
type ExamSummary struct {
	ID          string
	Title       string
	Status      Status
	CreatedAt   time.Time
	Score       *int
	SubmittedAt *time.Time
}

// StudentExam pairs an exam with the submission of one student.
type StudentExam struct {
	Exam       Exam
	Submission Submission
}
