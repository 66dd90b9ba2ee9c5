package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/victornm/examroom/internal/domain"
)

// Memory keeps exams in process memory. A single mutex serialises all writes, which makes
// every conditional update linearizable. Suitable for tests and single-instance setups.
type Memory struct {
	mu    sync.RWMutex
	exams map[string]*domain.Exam
	codes map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		exams: make(map[string]*domain.Exam),
		codes: make(map[string]string),
	}
}

func (m *Memory) CreateExam(_ context.Context, e *domain.Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.codes[e.ExamCode]; ok {
		return ErrCodeTaken
	}

	m.exams[e.ID] = clone(e)
	m.codes[e.ExamCode] = e.ID
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*domain.Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.exams[id]
	if !ok {
		return nil, examNotFound(id)
	}

	return clone(e), nil
}

func (m *Memory) GetByCode(_ context.Context, code string) (*domain.Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.codes[code]
	if !ok {
		return nil, codeNotFound(code)
	}

	return clone(m.exams[id]), nil
}

func (m *Memory) ListByTeacher(_ context.Context, teacherID string) ([]domain.Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var exams []domain.Exam
	for _, e := range m.exams {
		if e.CreatedBy != teacherID {
			continue
		}

		c := clone(e)
		c.Submissions = nil
		exams = append(exams, *c)
	}

	sort.Slice(exams, func(i, j int) bool {
		return exams[i].CreatedAt.After(exams[j].CreatedAt)
	})

	return exams, nil
}

func (m *Memory) ListByStudentSubmission(_ context.Context, studentID string) ([]domain.StudentExam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []domain.StudentExam
	for _, e := range m.exams {
		s, ok := e.Submission(studentID)
		if !ok {
			continue
		}

		c := clone(e)
		c.Submissions = []domain.Submission{s}
		res = append(res, domain.StudentExam{Exam: *c, Submission: s})
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Submission.SubmittedAt.After(res[j].Submission.SubmittedAt)
	})

	return res, nil
}

func (m *Memory) ReplaceDefinition(_ context.Context, id string, d domain.Definition) (*domain.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exams[id]
	if !ok {
		return nil, examNotFound(id)
	}

	if e.Status != domain.StatusPrivate {
		return nil, notEditable(id)
	}

	e.Title = d.Title
	e.Questions = cloneQuestions(d.Questions)
	return clone(e), nil
}

func (m *Memory) SetStatus(_ context.Context, id string, from, to domain.Status) (*domain.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exams[id]
	if !ok {
		return nil, examNotFound(id)
	}

	if e.Status != from {
		return nil, invalidTransition(id, from, e.Status)
	}

	e.Status = to
	return clone(e), nil
}

func (m *Memory) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.delete(id, "")
}

func (m *Memory) DeleteIfStatus(_ context.Context, id string, st domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.delete(id, st)
}

func (m *Memory) delete(id string, st domain.Status) error {
	e, ok := m.exams[id]
	if !ok {
		return examNotFound(id)
	}

	if st != "" && e.Status != st {
		return notDeletable(id, st)
	}

	delete(m.codes, e.ExamCode)
	delete(m.exams, id)
	return nil
}

func (m *Memory) AppendSubmission(_ context.Context, examID string, s domain.Submission) (*domain.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exams[examID]
	if !ok {
		return nil, examNotFound(examID)
	}

	if e.Status != domain.StatusInProgress {
		return nil, notAcceptingSubmissions(examID, e.Status)
	}

	if e.HasSubmission(s.UserID) {
		return nil, duplicateSubmission(examID, s.UserID)
	}

	s.Answers = slices.Clone(s.Answers)
	e.Submissions = append(e.Submissions, s)
	return clone(e), nil
}

func (m *Memory) CodeExists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.codes[code]
	return ok, nil
}

func clone(e *domain.Exam) *domain.Exam {
	c := *e
	c.Questions = cloneQuestions(e.Questions)
	c.Submissions = make([]domain.Submission, 0, len(e.Submissions))
	for _, s := range e.Submissions {
		s.Answers = slices.Clone(s.Answers)
		c.Submissions = append(c.Submissions, s)
	}

	return &c
}

func cloneQuestions(qs []domain.Question) []domain.Question {
	res := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		q.Options = slices.Clone(q.Options)
		res = append(res, q)
	}

	return res
}
