package api

import (
	"time"

	"github.com/victornm/examroom/internal/domain"
)

type (
	Exam struct {
		ID          string            `json:"id"`
		Title       string            `json:"title"`
		Questions   []domain.Question `json:"questions"`
		CreatedBy   string            `json:"created_by"`
		CreatedAt   time.Time         `json:"created_at"`
		ExamCode    string            `json:"exam_code"`
		Status      domain.Status     `json:"status"`
		Submissions []Submission      `json:"submissions"`
	}

	Submission struct {
		UserID      string    `json:"user_id"`
		Answers     []int     `json:"answers"`
		SubmittedAt time.Time `json:"submitted_at"`
		Score       int       `json:"score"`
	}

	ExamSummary struct {
		ID          string        `json:"id"`
		Title       string        `json:"title"`
		Status      domain.Status `json:"status"`
		CreatedAt   *time.Time    `json:"created_at,omitempty"`
		Score       *int          `json:"score,omitempty"`
		SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	}

	ResultsBoard struct {
		ExamID  string              `json:"exam_id"`
		Entries []ResultsBoardEntry `json:"entries"`
	}

	ResultsBoardEntry struct {
		Rank   int    `json:"rank"`
		UserID string `json:"user_id"`
		Score  int    `json:"score"`
	}
)

func newExam(e *domain.Exam) Exam {
	res := Exam{
		ID:          e.ID,
		Title:       e.Title,
		Questions:   e.Questions,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		ExamCode:    e.ExamCode,
		Status:      e.Status,
		Submissions: make([]Submission, 0, len(e.Submissions)),
	}

	for _, s := range e.Submissions {
		res.Submissions = append(res.Submissions, newSubmission(s))
	}

	return res
}

func newSubmission(s domain.Submission) Submission {
	return Submission{
		UserID:      s.UserID,
		Answers:     s.Answers,
		SubmittedAt: s.SubmittedAt,
		Score:       s.Score,
	}
}

func newExamSummary(e domain.ExamSummary) ExamSummary {
	res := ExamSummary{
		ID:          e.ID,
		Title:       e.Title,
		Status:      e.Status,
		Score:       e.Score,
		SubmittedAt: e.SubmittedAt,
	}

	if !e.CreatedAt.IsZero() {
		res.CreatedAt = &e.CreatedAt
	}

	return res
}

func newResultsBoard(b domain.ResultsBoard) ResultsBoard {
	res := ResultsBoard{
		ExamID:  b.ExamID,
		Entries: make([]ResultsBoardEntry, 0, len(b.Entries)),
	}

	for i, e := range b.Entries {
		res.Entries = append(res.Entries, ResultsBoardEntry{
			Rank:   i + 1,
			UserID: e.UserID,
			Score:  int(e.Score),
		})
	}

	return res
}
