package submission_test

import (
	"context"
	stderrors "errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
	"github.com/victornm/examroom/internal/event"
	"github.com/victornm/examroom/internal/store"
	"github.com/victornm/examroom/internal/submission"
)

var student = domain.Identity{UserID: "s1", Role: domain.RoleStudent}

func TestService_Submit(t *testing.T) {
	type inputs struct {
		points  []int64
		status  domain.Status
		student domain.Identity
		answers []int
	}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, sub *domain.Submission, err error)
	}{
		"should score 100 when every answer is correct": {
			arrange: func() inputs {
				return inputs{points: []int64{25, 25, 25, 25}, answers: []int{0, 0, 0, 0}}
			},
			assert: func(t *testing.T, sub *domain.Submission, err error) {
				require.NoError(t, err)
				assert.Equal(t, 100, sub.Score)
			},
		},

		"should score 50 when half the answers are correct": {
			arrange: func() inputs {
				return inputs{points: []int64{25, 25, 25, 25}, answers: []int{1, 0, 1, 0}}
			},
			assert: func(t *testing.T, sub *domain.Submission, err error) {
				require.NoError(t, err)
				assert.Equal(t, 50, sub.Score)
				assert.Equal(t, []int{1, 0, 1, 0}, sub.Answers)
			},
		},

		"should pad missing answers and score 0": {
			arrange: func() inputs {
				return inputs{points: []int64{25, 25, 25, 25}, answers: []int{}}
			},
			assert: func(t *testing.T, sub *domain.Submission, err error) {
				require.NoError(t, err)
				assert.Equal(t, 0, sub.Score)
				assert.Equal(t, []int{-1, -1, -1, -1}, sub.Answers)
			},
		},

		"should treat out of range answers as unanswered": {
			arrange: func() inputs {
				return inputs{points: []int64{25, 25, 25, 25}, answers: []int{0, 7, -3, 0, 0}}
			},
			assert: func(t *testing.T, sub *domain.Submission, err error) {
				require.NoError(t, err)
				assert.Equal(t, 50, sub.Score)
				assert.Equal(t, []int{0, -1, -1, 0}, sub.Answers)
			},
		},

		"should award the first question only": {
			arrange: func() inputs {
				return inputs{points: []int64{34, 33, 33}, answers: []int{0, 1, 1}}
			},
			assert: func(t *testing.T, sub *domain.Submission, err error) {
				require.NoError(t, err)
				assert.Equal(t, 34, sub.Score)
			},
		},

		"should reject a private exam": {
			arrange: func() inputs {
				return inputs{points: []int64{100}, status: domain.StatusPrivate, answers: []int{0}}
			},
			assert: func(t *testing.T, _ *domain.Submission, err error) {
				require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)
			},
		},

		"should reject a finished exam": {
			arrange: func() inputs {
				return inputs{points: []int64{100}, status: domain.StatusDone, answers: []int{0}}
			},
			assert: func(t *testing.T, _ *domain.Submission, err error) {
				require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got %v", err)
			},
		},

		"should reject a teacher": {
			arrange: func() inputs {
				return inputs{
					points:  []int64{100},
					student: domain.Identity{UserID: "t1", Role: domain.RoleTeacher},
					answers: []int{0},
				}
			},
			assert: func(t *testing.T, _ *domain.Submission, err error) {
				require.True(t, errors.Is(err, errors.CodePermissionDenied), "got %v", err)
			},
		},
	}

	for name, tt := range tests {
		name, tt := name, tt
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()
			if in.status == "" {
				in.status = domain.StatusInProgress
			}
			if in.student.UserID == "" {
				in.student = student
			}

			st := store.NewMemory()
			require.NoError(t, st.CreateExam(context.Background(), makeExam("e1", in.status, in.points...)))

			s := submission.NewService(submission.Config{Store: st, EventBus: event.NewBus()})
			sub, err := s.Submit(context.Background(), submission.SubmitRequest{
				ExamID:  "e1",
				Student: in.student,
				Answers: in.answers,
			})
			tt.assert(t, sub, err)
		})
	}
}

func TestService_Submit_UnknownExam(t *testing.T) {
	s := submission.NewService(submission.Config{Store: store.NewMemory(), EventBus: event.NewBus()})

	_, err := s.Submit(context.Background(), submission.SubmitRequest{ExamID: "missing", Student: student})
	require.True(t, errors.Is(err, errors.CodeNotFound), "got %v", err)
}

func TestService_Submit_KeepsFirstSubmission(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateExam(ctx, makeExam("e1", domain.StatusInProgress, 25, 25, 25, 25)))

	s := submission.NewService(submission.Config{Store: st, EventBus: event.NewBus()})

	first, err := s.Submit(ctx, submission.SubmitRequest{ExamID: "e1", Student: student, Answers: []int{0, 0, 0, 0}})
	require.NoError(t, err)

	_, err = s.Submit(ctx, submission.SubmitRequest{ExamID: "e1", Student: student, Answers: []int{1, 1, 1, 1}})
	require.True(t, errors.Is(err, errors.CodeAlreadyExists), "got %v", err)

	_, err = s.SubmitEmpty(ctx, submission.SubmitEmptyRequest{ExamID: "e1", Student: student})
	require.True(t, errors.Is(err, errors.CodeAlreadyExists), "abandon after submit should be a duplicate, got %v", err)

	e, err := st.GetByID(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, e.Submissions, 1)
	require.Equal(t, first.Score, e.Submissions[0].Score)
	require.Equal(t, []int{0, 0, 0, 0}, e.Submissions[0].Answers)
}

func TestService_SubmitEmpty(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateExam(ctx, makeExam("e1", domain.StatusInProgress, 50, 50)))

	s := submission.NewService(submission.Config{
		Store:    st,
		EventBus: event.NewBus(),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	})

	sub, err := s.SubmitEmpty(ctx, submission.SubmitEmptyRequest{ExamID: "e1", Student: student})
	require.NoError(t, err)
	require.Equal(t, 0, sub.Score)
	require.Equal(t, []int{-1, -1}, sub.Answers)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), sub.SubmittedAt)
}

func TestService_Submit_ConcurrentAttempts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateExam(ctx, makeExam("e1", domain.StatusInProgress, 25, 25, 25, 25)))

	s := submission.NewService(submission.Config{Store: st, EventBus: event.NewBus()})

	const attempts = 30

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		recorded   int
		duplicates int
	)

	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()

			var err error
			if i%2 == 0 {
				_, err = s.Submit(ctx, submission.SubmitRequest{ExamID: "e1", Student: student, Answers: []int{0, 0, 0, 0}})
			} else {
				_, err = s.SubmitEmpty(ctx, submission.SubmitEmptyRequest{ExamID: "e1", Student: student})
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				recorded++
			case errors.Is(err, errors.CodeAlreadyExists):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, recorded)
	require.Equal(t, attempts-1, duplicates)
}

func TestService_Submit_PublishesEvent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateExam(ctx, makeExam("e1", domain.StatusInProgress, 100)))

	eb := event.NewBus()
	var received []domain.EventSubmissionRecorded
	var mu sync.Mutex
	eb.Subscribe(domain.EventNameSubmissionRecorded, "test", func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.(domain.EventSubmissionRecorded))
		return nil
	})

	s := submission.NewService(submission.Config{Store: st, EventBus: eb})
	_, err := s.Submit(ctx, submission.SubmitRequest{ExamID: "e1", Student: student, Answers: []int{0}})
	require.NoError(t, err)

	eb.Stop()
	require.Len(t, received, 1)
	require.Equal(t, "teacher", received[0].ExamOwner)
	require.Equal(t, 100, received[0].Submission.Score)
}

func TestService_Submit_StoreFaultIsTransient(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateExam(ctx, makeExam("e1", domain.StatusInProgress, 100)))

	s := submission.NewService(submission.Config{
		Store:    failingAppend{Store: mem},
		EventBus: event.NewBus(),
	})

	_, err := s.Submit(ctx, submission.SubmitRequest{ExamID: "e1", Student: student, Answers: []int{0}})
	require.True(t, errors.Is(err, errors.CodeUnavailable), "got %v", err)

	e, err := mem.GetByID(ctx, "e1")
	require.NoError(t, err)
	require.Empty(t, e.Submissions)
}

func TestScore_Bounds(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		questions := randomQuestions(r)
		answers := make([]int, r.Intn(len(questions)+3))
		for j := range answers {
			answers[j] = r.Intn(6) - 1
		}

		normalized := submission.Normalize(questions, answers)
		score := submission.Score(questions, normalized)

		require.Len(t, normalized, len(questions))
		require.GreaterOrEqual(t, score, 0)
		require.LessOrEqual(t, score, 100)
		require.Equal(t, score, submission.Score(questions, submission.Normalize(questions, answers)), "scoring should be deterministic")
	}
}

func TestScore_RoundsUp(t *testing.T) {
	questions := []domain.Question{
		{Description: "a", Options: []string{"x", "y"}, Points: decimal.RequireFromString("33.3")},
		{Description: "b", Options: []string{"x", "y"}, Points: decimal.RequireFromString("33.3")},
		{Description: "c", Options: []string{"x", "y"}, Points: decimal.RequireFromString("33.4")},
	}

	require.Equal(t, 34, submission.Score(questions, []int{0, -1, -1}))
	require.Equal(t, 67, submission.Score(questions, []int{0, 0, -1}))
	require.Equal(t, 100, submission.Score(questions, []int{0, 0, 0}))
}

// randomQuestions splits 100 points into 1 to 8 questions with positive points.
func randomQuestions(r *rand.Rand) []domain.Question {
	n := r.Intn(8) + 1
	left := decimal.NewFromInt(100)

	qs := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		p := left
		if i < n-1 {
			p = left.Div(decimal.NewFromInt(int64(n - i))).Round(1)
		}
		left = left.Sub(p)

		qs = append(qs, domain.Question{
			Description: "q",
			Options:     make([]string, r.Intn(4)+2),
			Points:      p,
		})
	}

	return qs
}

type failingAppend struct {
	store.Store
}

func (failingAppend) AppendSubmission(context.Context, string, domain.Submission) (*domain.Exam, error) {
	return nil, stderrors.New("connection reset by peer")
}

func makeExam(id string, st domain.Status, points ...int64) *domain.Exam {
	e := &domain.Exam{
		ID:        id,
		Title:     "Exam " + id,
		CreatedBy: "teacher",
		CreatedAt: time.Now(),
		ExamCode:  "1" + id,
		Status:    st,
	}

	for _, p := range points {
		e.Questions = append(e.Questions, domain.Question{
			Description: "question",
			Options:     []string{"right", "wrong", "wrong again"},
			Points:      decimal.NewFromInt(p),
		})
	}

	return e
}
