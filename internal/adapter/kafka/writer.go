package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/bufr"
	"github.com/couchcryptid/grid-obs-bufr/internal/config"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

// ContentTypeBUFR is the content_type header of message records.
const ContentTypeBUFR = "application/x-bufr"

// ErrCircuitOpen is returned while the broker circuit is open.
var ErrCircuitOpen = errors.New("kafka circuit breaker open")

// messageWriter is the part of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Backoff controls retries of a failed write.
type Backoff struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

// Publisher sends every BUFR message of a run to the data topic, one record
// per message, followed by a JSON run summary on the summary topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer       messageWriter
	breaker      *gobreaker.CircuitBreaker
	backoff      Backoff
	topic        string
	summaryTopic string
	logger       *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topics.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newPublisher(w, cfg.KafkaTopic, cfg.KafkaSummaryTopic, Backoff{
		MaxRetries: 3,
		Initial:    500 * time.Millisecond,
		Max:        5 * time.Second,
	}, logger)
}

func newPublisher(w messageWriter, topic, summaryTopic string, backoff Backoff, logger *slog.Logger) *Publisher {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})
	return &Publisher{
		writer:       w,
		breaker:      cb,
		backoff:      backoff,
		topic:        topic,
		summaryTopic: summaryTopic,
		logger:       logger,
	}
}

// Publish reads the run's output file and writes its messages and summary.
func (p *Publisher) Publish(ctx context.Context, report pipeline.Report) error {
	data, err := os.ReadFile(report.OutputPath)
	if err != nil {
		return fmt.Errorf("read bufr output: %w", err)
	}
	raw, err := bufr.Split(data)
	if err != nil {
		return fmt.Errorf("split bufr output: %w", err)
	}

	msgs := make([]kafkago.Message, 0, len(raw)+1)
	for i, m := range raw {
		msgs = append(msgs, bufrMessage(p.topic, report, i, m))
	}
	if p.summaryTopic != "" {
		summary, err := summaryMessage(p.summaryTopic, report)
		if err != nil {
			return err
		}
		msgs = append(msgs, summary)
	}

	if err := p.write(ctx, msgs); err != nil {
		return err
	}
	p.logger.Info("bufr messages published",
		"run_id", report.RunID,
		"topic", p.topic,
		"messages", len(raw),
	)
	return nil
}

// write sends msgs through the circuit breaker, retrying with exponential
// backoff. An open circuit is not retried.
func (p *Publisher) write(ctx context.Context, msgs []kafkago.Message) error {
	delay := p.backoff.Initial
	for attempt := 0; ; attempt++ {
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.writer.WriteMessages(ctx, msgs...)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if attempt >= p.backoff.MaxRetries {
			return fmt.Errorf("write %d messages: %w", len(msgs), err)
		}
		p.logger.Warn("kafka write failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if !retry.SleepWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay = retry.NextBackoff(delay, p.backoff.Max)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// bufrMessage wraps one encoded BUFR message, keyed by run ID and sequence.
func bufrMessage(topic string, report pipeline.Report, seq int, msg []byte) kafkago.Message {
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(fmt.Sprintf("%s-%06d", report.RunID, seq)),
		Value: msg,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(report.RunID)},
			{Key: "obs_type", Value: []byte(report.ObsType)},
			{Key: "date", Value: []byte(report.Date.Format("20060102"))},
			{Key: "seq", Value: []byte(strconv.Itoa(seq))},
			{Key: "content_type", Value: []byte(ContentTypeBUFR)},
		},
	}
}

// summaryMessage marshals a run report.
func summaryMessage(topic string, report pipeline.Report) (kafkago.Message, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run report: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(report.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "obs_type", Value: []byte(report.ObsType)},
			{Key: "started_at", Value: []byte(report.StartedAt.Format(time.RFC3339))},
		},
	}, nil
}
