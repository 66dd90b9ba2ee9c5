package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	published := domain.EventExamPublished{Exam: domain.Exam{ID: "e1"}}
	finished := domain.EventExamFinished{Exam: domain.Exam{ID: "e1"}}
	recorded := domain.EventSubmissionRecorded{ExamID: "e1", Submission: domain.Submission{UserID: "s1", Score: 75}}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber should only receive the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{published, finished},
					subscribers: []subscriber{
						{name: "notify", subscribeTo: []string{domain.EventNameExamPublished}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{published}, out.received["notify"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{recorded},
					subscribers: []subscriber{
						{name: "results", subscribeTo: []string{domain.EventNameSubmissionRecorded}},
						{name: "notify", subscribeTo: []string{domain.EventNameSubmissionRecorded}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{recorded}, out.received["results"])
				assert.ElementsMatch(t, []event.Event{recorded}, out.received["notify"])
			},
		},

		"multiple events should be dispatched correctly to multiple subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{published, recorded, recorded, finished},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{domain.EventNameSubmissionRecorded}},
						{name: "s2", subscribeTo: []string{domain.EventNameExamPublished, domain.EventNameExamFinished}},
						{name: "s3", subscribeTo: []string{domain.EventNameExamDeleted}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{recorded, recorded}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{published, finished}, out.received["s2"])
				assert.Empty(t, out.received["s3"])
			},
		},
	}

	for name, tt := range tests {
		name, tt := name, tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, s.name, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerFailureIsIsolated(t *testing.T) {
	var delivered atomic.Int32

	b := event.NewBus()
	b.Subscribe(domain.EventNameExamCreated, "panics", func(context.Context, event.Event) error {
		panic("boom")
	})
	b.Subscribe(domain.EventNameExamCreated, "fails", func(context.Context, event.Event) error {
		return errors.New("failed")
	})
	b.Subscribe(domain.EventNameExamCreated, "ok", func(context.Context, event.Event) error {
		delivered.Add(1)
		return nil
	})

	b.Publish(context.Background(), domain.EventExamCreated{})
	b.Stop()

	require.Equal(t, int32(1), delivered.Load())
}

func TestBus_HandlerOutlivesPublisherContext(t *testing.T) {
	b := event.NewBus(event.WithTimeout(time.Second), event.WithPoolSize(1))

	var handlerErr error
	b.Subscribe(domain.EventNameExamFinished, "ctx", func(ctx context.Context, _ event.Event) error {
		handlerErr = ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.Publish(ctx, domain.EventExamFinished{})
	b.Stop()

	require.NoError(t, handlerErr, "handler context should not inherit the publisher cancellation")
}

type subscriber struct {
	name        string
	subscribeTo []string
}
