// Package notify forwards domain events to the message broker for downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/event"
)

const DefaultTopic = "exam-events"

// Envelope is the JSON payload of every message.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	ExamID     string    `json:"exam_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type ExamData struct {
	Title     string        `json:"title"`
	ExamCode  string        `json:"exam_code"`
	Status    domain.Status `json:"status"`
	CreatedBy string        `json:"created_by"`
}

type DeletedData struct {
	CreatedBy string `json:"created_by"`
}

type SubmissionData struct {
	ExamOwner   string    `json:"exam_owner"`
	UserID      string    `json:"user_id"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Config struct {
	EventBus  *event.Bus
	Publisher message.Publisher
	Topic     string
	Now       func() time.Time
}

type Forwarder struct {
	pub   message.Publisher
	topic string
	now   func() time.Time
}

func NewForwarder(c Config) *Forwarder {
	f := &Forwarder{
		pub:   c.Publisher,
		topic: c.Topic,
		now:   c.Now,
	}

	if f.topic == "" {
		f.topic = DefaultTopic
	}
	if f.now == nil {
		f.now = time.Now
	}

	for _, name := range []string{
		domain.EventNameExamCreated,
		domain.EventNameExamPublished,
		domain.EventNameExamFinished,
		domain.EventNameExamDeleted,
		domain.EventNameSubmissionRecorded,
	} {
		c.EventBus.Subscribe(name, "notify", f.Forward)
	}

	return f
}

// Forward publishes the event to the broker topic.
func (f *Forwarder) Forward(ctx context.Context, e event.Event) error {
	env, err := f.envelope(e)
	if err != nil {
		return err
	}

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", env.Type, err)
	}

	msg := message.NewMessage(env.ID, b)
	msg.Metadata.Set("event_type", env.Type)
	msg.Metadata.Set("exam_id", env.ExamID)
	msg.SetContext(ctx)

	if err := f.pub.Publish(f.topic, msg); err != nil {
		return fmt.Errorf("notify: publish %s: %w", env.Type, err)
	}

	slog.DebugContext(ctx, "notify: event forwarded", "event", env.Type, "exam_id", env.ExamID, "topic", f.topic)
	return nil
}

func (f *Forwarder) envelope(e event.Event) (Envelope, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Envelope{}, fmt.Errorf("notify: generate message ID: %w", err)
	}

	env := Envelope{
		ID:         id.String(),
		Type:       e.Name(),
		OccurredAt: f.now().UTC(),
	}

	switch e := e.(type) {
	case domain.EventExamCreated:
		env.ExamID, env.Data = e.Exam.ID, examData(e.Exam)
	case domain.EventExamPublished:
		env.ExamID, env.Data = e.Exam.ID, examData(e.Exam)
	case domain.EventExamFinished:
		env.ExamID, env.Data = e.Exam.ID, examData(e.Exam)
	case domain.EventExamDeleted:
		env.ExamID, env.Data = e.ExamID, DeletedData{CreatedBy: e.CreatedBy}
	case domain.EventSubmissionRecorded:
		env.ExamID, env.Data = e.ExamID, SubmissionData{
			ExamOwner:   e.ExamOwner,
			UserID:      e.Submission.UserID,
			Score:       e.Submission.Score,
			SubmittedAt: e.Submission.SubmittedAt,
		}
	default:
		return Envelope{}, fmt.Errorf("notify: unsupported event %s", e.Name())
	}

	return env, nil
}

func examData(e domain.Exam) ExamData {
	return ExamData{
		Title:     e.Title,
		ExamCode:  e.ExamCode,
		Status:    e.Status,
		CreatedBy: e.CreatedBy,
	}
}

// NewKafkaPublisher connects a Watermill publisher to the Kafka brokers.
func NewKafkaPublisher(brokers []string, l *slog.Logger) (message.Publisher, error) {
	p, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, watermill.NewSlogLogger(l))
	if err != nil {
		return nil, fmt.Errorf("notify: kafka publisher: %w", err)
	}

	return p, nil
}

// NewInMemoryPubSub returns a Go channel pub/sub for single-process setups and tests.
func NewInMemoryPubSub(l *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(l))
}
