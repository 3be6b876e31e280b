// Package messaging announces finished sync runs on Kafka
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/usecase"
	"github.com/servevlc/platform/shared/common"
)

// Supported payload encodings
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRunPublisher writes one message per finished step, keyed by run id
type KafkaRunPublisher struct {
	writer   messageWriter
	topic    string
	encoding string
	timeout  time.Duration
	logger   *logging.Logger
}

// runEnvelope is the msgpack shape of a RunEvent; field names follow the JSON payload
type runEnvelope struct {
	RunID      string             `json:"runId"`
	Operation  string             `json:"operation"`
	Status     string             `json:"status"`
	Message    string             `json:"message"`
	Report     *entity.ReportView `json:"report"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// NewKafkaRunPublisher creates a publisher writing to cfg.Topic
func NewKafkaRunPublisher(cfg common.KafkaConfig, logger *logging.Logger) *KafkaRunPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = EncodingJSON
	}

	p := &KafkaRunPublisher{topic: cfg.Topic, encoding: encoding, timeout: timeout, logger: logger}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    1,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireAll,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn("Kafka writer error", zap.String("message", fmt.Sprintf(msg, args...)))
		}),
	}
	return p
}

func (p *KafkaRunPublisher) encode(event *usecase.RunEvent) ([]byte, string, error) {
	switch p.encoding {
	case EncodingJSON:
		payload, err := json.Marshal(event)
		return payload, "application/json", err
	case EncodingMsgpack:
		env := runEnvelope{
			RunID:      event.RunID,
			Operation:  string(event.Operation),
			Status:     string(event.Status),
			Message:    event.Message,
			StartedAt:  event.StartedAt,
			FinishedAt: event.FinishedAt,
		}
		if event.Report != nil {
			view := event.Report.View()
			env.Report = &view
		}

		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(&env); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "application/msgpack", nil
	default:
		return nil, "", fmt.Errorf("unsupported encoding: %s", p.encoding)
	}
}

// PublishRun serializes the event in the configured encoding
func (p *KafkaRunPublisher) PublishRun(ctx context.Context, event *usecase.RunEvent) error {
	payload, contentType, err := p.encode(event)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: payload,
		Time:  event.FinishedAt,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(event.Operation)},
			{Key: "status", Value: []byte(event.Status)},
			{Key: "content-type", Value: []byte(contentType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return common.ErrExternalService("kafka", err)
	}

	p.logger.Debug("Run event published",
		zap.String("topic", p.topic),
		zap.String("run_id", event.RunID),
		zap.String("operation", string(event.Operation)))
	return nil
}

// Close flushes pending messages
func (p *KafkaRunPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes run events to the log when Kafka is disabled
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a new LogPublisher
func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// PublishRun logs the event
func (p *LogPublisher) PublishRun(ctx context.Context, event *usecase.RunEvent) error {
	p.logger.WithContext(ctx).Info("Sync run finished",
		zap.String("operation", string(event.Operation)),
		zap.String("status", string(event.Status)),
		zap.Duration("duration", event.FinishedAt.Sub(event.StartedAt)))
	return nil
}
