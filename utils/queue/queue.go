package queue

import (
	"context"
	"crowdfund-bend/models"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Queue accepts deferred, at-least-once jobs
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) error
}

// Handler processes one job. A returned error is logged; the job is retried
// up to maxAttempts before being dropped.
type Handler func(ctx context.Context, job models.Job) error

// Source delivers jobs to a handler until ctx is done
type Source interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}

const maxAttempts = 3

// ErrFull is returned by Local when its buffer is exhausted
var ErrFull = errors.New("job queue full")

func encode(jobType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Job{
		Type:       jobType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
}

func handle(ctx context.Context, h Handler, job models.Job) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = h(ctx, job); err == nil {
			return
		}
		log.Printf("job_%s_attempt_%d: %v", job.Type, attempt, err)
		if ctx.Err() != nil {
			return
		}
	}
	log.Printf("job_%s_dropped: %v", job.Type, err)
}

// Producer publishes jobs to a kafka topic
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer ...
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer requires at least one broker")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer, topic: topic}, nil
}

// Enqueue ...
func (p *Producer) Enqueue(ctx context.Context, jobType string, payload interface{}) error {
	b, err := encode(jobType, payload)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(jobType),
		Value: b,
	})
}

// Close ...
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads jobs from a kafka consumer group, committing each message
// after its handler ran
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer ...
func NewConsumer(brokers []string, group, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer requires at least one broker")
	}
	if strings.TrimSpace(group) == "" {
		return nil, errors.New("kafka consumer requires group")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return &Consumer{reader: reader}, nil
}

// Run ...
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			log.Printf("kafka_fetch_err: %v", err)
			continue
		}

		var job models.Job
		if err := json.Unmarshal(km.Value, &job); err != nil {
			log.Printf("job_decode_err: %v", err)
		} else {
			handle(ctx, h, job)
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			log.Printf("kafka_commit_err: %v", err)
		}
	}
}

// Close ...
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Local is an in-process Queue and Source backed by a buffered channel
type Local struct {
	jobs chan models.Job
}

// NewLocal ...
func NewLocal(size int) *Local {
	return &Local{jobs: make(chan models.Job, size)}
}

// Enqueue ...
func (q *Local) Enqueue(_ context.Context, jobType string, payload interface{}) error {
	b, err := encode(jobType, payload)
	if err != nil {
		return err
	}
	var job models.Job
	if err := json.Unmarshal(b, &job); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

// Run ...
func (q *Local) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			handle(ctx, h, job)
		}
	}
}

// Close ...
func (q *Local) Close() error {
	return nil
}
