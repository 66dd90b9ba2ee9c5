// Package results keeps a live ranking of the scores submitted to each exam.
package results

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	dirtyTTL        = 10 * publishInterval
)

var (
	// openWindow starts a publish window for the exam, or marks the open one dirty.
	// KEYS: time, dirty. ARGV: now, interval ms, dirty ttl ms.
	openWindow = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	return 1
end
redis.call('SET', KEYS[2], 1, 'PX', ARGV[3])
return 0`)

	// closeWindow extends the window when updates arrived during it, and closes it otherwise.
	// KEYS: time, dirty. ARGV: now, interval ms.
	closeWindow = redis.NewScript(`
if redis.call('GET', KEYS[2]) then
	redis.call('DEL', KEYS[2])
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
redis.call('DEL', KEYS[1])
return 0`)
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string

	// pending trailing publishes
	wg sync.WaitGroup
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameSubmissionRecorded, "results", func(ctx context.Context, e event.Event) error {
		return s.RecordScore(ctx, e.(domain.EventSubmissionRecorded))
	})

	s.eb.Subscribe(domain.EventNameExamDeleted, "results", func(ctx context.Context, e event.Event) error {
		return s.Clear(ctx, e.(domain.EventExamDeleted).ExamID)
	})

	return s
}

type GetResultsRequest struct {
	ExamID    string
	ExamOwner string
}

// GetResults returns the ranking of an exam, best score first. An exam nobody submitted yet has an empty board.
func (s *Service) GetResults(ctx context.Context, req GetResultsRequest) (*domain.ResultsBoard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.boardKey(req.ExamID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}

	entries := make([]domain.ResultsBoardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.ResultsBoardEntry{
			UserID: z.Member.(string),
			Score:  z.Score,
		})
	}

	return &domain.ResultsBoard{
		ExamID:    req.ExamID,
		ExamOwner: req.ExamOwner,
		Entries:   entries,
	}, nil
}

// RecordScore puts the student's score on the board. The stored submission stays the source of
// truth, so a failure here only delays the live view.
func (s *Service) RecordScore(ctx context.Context, e domain.EventSubmissionRecorded) error {
	sub := e.Submission

	if err := s.redis.ZAdd(ctx, s.boardKey(e.ExamID), redis.Z{
		Score:  float64(sub.Score),
		Member: sub.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("record score: %w", err)
	}

	return s.schedulePublish(ctx, e)
}

// schedulePublish publishes at most one board update per exam and interval. Submissions tend to
// arrive in bursts near the end of an exam. Updates throttled during a window are published once
// it ends, so the last published board always holds every recorded score.
func (s *Service) schedulePublish(ctx context.Context, e domain.EventSubmissionRecorded) error {
	opened, err := openWindow.Run(ctx, s.redis, s.windowKeys(e.ExamID),
		e.Submission.SubmittedAt.UnixMilli(), publishInterval.Milliseconds(), dirtyTTL.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("open publish window: %w", err)
	}

	if opened == 0 {
		slog.DebugContext(ctx, "results: publish throttled", "exam_id", e.ExamID)
		return nil
	}

	s.trail(ctx, e.ExamID, e.ExamOwner)
	return s.publish(ctx, e.ExamID, e.ExamOwner)
}

// trail closes the publish window once the interval is over, publishing again if it got dirty.
func (s *Service) trail(ctx context.Context, examID, owner string) {
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	time.AfterFunc(publishInterval, func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		dirty, err := closeWindow.Run(ctx, s.redis, s.windowKeys(examID),
			time.Now().UnixMilli(), publishInterval.Milliseconds()).Int64()
		if err != nil {
			slog.ErrorContext(ctx, "results: close publish window failed", "exam_id", examID, "error", err)
			return
		}

		if dirty == 0 {
			return
		}

		if err := s.publish(ctx, examID, owner); err != nil {
			slog.ErrorContext(ctx, "results: trailing publish failed", "exam_id", examID, "error", err)
		}

		s.trail(ctx, examID, owner)
	})
}

func (s *Service) publish(ctx context.Context, examID, owner string) error {
	b, err := s.GetResults(ctx, GetResultsRequest{
		ExamID:    examID,
		ExamOwner: owner,
	})
	if err != nil {
		return fmt.Errorf("get results failed: exam=%s: %w", examID, err)
	}

	s.eb.Publish(ctx, domain.EventResultsBoardUpdated{
		Board: *b,
	})

	return nil
}

// Close waits for the pending trailing publishes.
func (s *Service) Close() {
	s.wg.Wait()
}

// Clear drops the board of a deleted exam.
func (s *Service) Clear(ctx context.Context, examID string) error {
	return s.redis.Del(ctx, s.boardKey(examID), s.timeKey(examID), s.dirtyKey(examID)).Err()
}

func (s *Service) boardKey(examID string) string {
	return fmt.Sprintf("%s:%s:results", s.prefix, examID)
}

func (s *Service) timeKey(examID string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, examID)
}

func (s *Service) dirtyKey(examID string) string {
	return fmt.Sprintf("%s:%s:dirty", s.prefix, examID)
}

func (s *Service) windowKeys(examID string) []string {
	return []string{s.timeKey(examID), s.dirtyKey(examID)}
}
