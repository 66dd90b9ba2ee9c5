package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/examroom/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	// StudentResult is what a student on the board is told about their own standing.
	StudentResult struct {
		ExamID string `json:"exam_id"`
		Rank   int    `json:"rank"`
		Of     int    `json:"of"`
		Score  int    `json:"score"`
	}
)

// PublishResultsUpdated pushes the full board to the exam owner and their own rank to every
// student on it.
func (a *API) PublishResultsUpdated(ctx context.Context, e domain.EventResultsBoardUpdated) error {
	board := newResultsBoard(e.Board)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, e.Board.ExamOwner, e.Name(), board)
	})

	for _, entry := range board.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), StudentResult{
				ExamID: board.ExamID,
				Rank:   entry.Rank,
				Of:     len(board.Entries),
				Score:  entry.Score,
			})
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
