package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/usecase"
	"github.com/servevlc/platform/shared/common"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var (
	_ usecase.ReportPublisher = (*KafkaRunPublisher)(nil)
	_ usecase.ReportPublisher = (*LogPublisher)(nil)
)

func newTestPublisher(w messageWriter) *KafkaRunPublisher {
	return newEncodingPublisher(w, "")
}

func newEncodingPublisher(w messageWriter, encoding string) *KafkaRunPublisher {
	p := NewKafkaRunPublisher(common.KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		Topic:    "sync-reports",
		Encoding: encoding,
	}, nil)
	p.writer = w
	return p
}

func TestPublishRunWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)

	report := entity.NewSyncReport()
	report.Record(entity.FamilyAccounts, entity.ActionPushedToRemote)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := &usecase.RunEvent{
		RunID:      "run-1",
		Operation:  usecase.OpAccounts,
		Status:     usecase.StatusSuccess,
		Message:    report.Summary(),
		Report:     report,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}

	require.NoError(t, p.PublishRun(context.Background(), event))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "run-1", string(msg.Key))
	assert.Equal(t, event.FinishedAt, msg.Time)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "operation", Value: []byte("accounts")})
	assert.Contains(t, msg.Headers, kafka.Header{Key: "content-type", Value: []byte("application/json")})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "accounts", decoded["operation"])
	assert.Equal(t, "success", decoded["status"])
	assert.NotNil(t, decoded["report"])
}

func TestPublishRunWrapsWriterErrors(t *testing.T) {
	p := newTestPublisher(&fakeWriter{err: errors.New("no brokers")})

	err := p.PublishRun(context.Background(), &usecase.RunEvent{RunID: "run-2", Operation: usecase.OpAll})
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeExternalService))
}

func TestPublishRunMsgpackEncoding(t *testing.T) {
	w := &fakeWriter{}
	p := newEncodingPublisher(w, EncodingMsgpack)

	report := entity.NewSyncReport()
	report.Record(entity.FamilyWorkItems, entity.ActionUpdatedLocally)
	report.AddError("Failed to sync work item w-1: boom")
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := &usecase.RunEvent{
		RunID:      "run-3",
		Operation:  usecase.OpWorkItems,
		Status:     usecase.StatusError,
		Message:    "failed",
		Report:     report,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}

	require.NoError(t, p.PublishRun(context.Background(), event))
	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Contains(t, msg.Headers, kafka.Header{Key: "content-type", Value: []byte("application/msgpack")})

	var decoded runEnvelope
	dec := msgpack.NewDecoder(bytes.NewReader(msg.Value))
	dec.SetCustomStructTag("json")
	require.NoError(t, dec.Decode(&decoded))

	assert.Equal(t, "run-3", decoded.RunID)
	assert.Equal(t, "work_items", decoded.Operation)
	assert.Equal(t, "error", decoded.Status)
	assert.True(t, decoded.FinishedAt.Equal(event.FinishedAt))
	require.NotNil(t, decoded.Report)
	assert.Equal(t, 1, decoded.Report.WorkItems.UpdatedLocally)
	assert.Equal(t, 1, decoded.Report.TotalErrors)
}

func TestPublishRunRejectsUnknownEncoding(t *testing.T) {
	w := &fakeWriter{}
	p := newEncodingPublisher(w, "avro")

	err := p.PublishRun(context.Background(), &usecase.RunEvent{RunID: "run-4", Operation: usecase.OpAll})
	require.Error(t, err)
	assert.Empty(t, w.messages)
}
