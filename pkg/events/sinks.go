package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	Logger *zap.SugaredLogger
}

func (s LogSink) Emit(ev Event) {
	s.Logger.Infow(string(ev.Kind), "event_id", ev.ID, "data", ev.Data)
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic from a background goroutine so the
// engine never waits on the broker. Events are keyed by kind.
type KafkaSink struct {
	writer  MessageWriter
	logger  *zap.SugaredLogger
	timeout time.Duration

	queue chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

func NewKafkaSink(w MessageWriter, logger *zap.SugaredLogger) *KafkaSink {
	s := &KafkaSink{
		writer:  w,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan Event, 1024),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Emit queues the event; when the queue is full the event is dropped and logged.
func (s *KafkaSink) Emit(ev Event) {
	select {
	case s.queue <- ev:
	default:
		s.logger.Warnw("kafka_event_dropped", "event_id", ev.ID, "kind", ev.Kind)
	}
}

func (s *KafkaSink) loop() {
	defer s.wg.Done()
	for ev := range s.queue {
		value, err := json.Marshal(ev)
		if err != nil {
			s.logger.Errorw("kafka_event_marshal_failed", "event_id", ev.ID, "err", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Kind), Value: value})
		cancel()
		if err != nil {
			s.logger.Errorw("kafka_publish_failed", "event_id", ev.ID, "kind", ev.Kind, "err", err)
		}
	}
}

// Close drains the queue and closes the writer.
func (s *KafkaSink) Close() error {
	var err error
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
		err = s.writer.Close()
	})
	return err
}
