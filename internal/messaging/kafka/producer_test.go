package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

func newTestProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	client := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromClient(client, log.WithField("component", "kafka-producer-test"))
	producer.now = func() time.Time { return time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC) }
	return producer, client
}

func TestProducerPublishEvent(t *testing.T) {
	producer, client := newTestProducer(t)

	client.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		value, _ := msg.Value.Encode()
		switch {
		case msg.Topic != TopicRunEvents:
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		case string(key) != "A1":
			return fmt.Errorf("unexpected key %q", key)
		case !json.Valid(value):
			return fmt.Errorf("payload is not json: %s", value)
		case !msg.Timestamp.Equal(time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)):
			return fmt.Errorf("unexpected timestamp %v", msg.Timestamp)
		}
		return nil
	})

	event := NewExceptionDetectedEvent("ws-1", domain.Exception{
		RunID: "run-1", OrderID: "A1", Type: domain.ExceptionLateShipment, Urgency: domain.UrgencyHigh,
	}, time.Now())

	require.NoError(t, producer.PublishEvent(TopicRunEvents, "A1", event, map[string]string{
		HeaderRunID:     "run-1",
		HeaderEventType: string(EventTypeExceptionDetected),
	}))
	require.NoError(t, producer.Close())
}

func TestProducerPublishEventFailures(t *testing.T) {
	producer, client := newTestProducer(t)

	err := producer.PublishEvent(TopicRunEvents, "k", make(chan int), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal event")

	client.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err = producer.PublishEvent(TopicRunEvents, "ws-1", NewRunCompletedEvent(domain.RunResult{RunID: "run-1"}, time.Now()), nil)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, producer.Close())
}

func TestRecordHeadersSortedByKey(t *testing.T) {
	assert.Nil(t, recordHeaders(nil))

	headers := recordHeaders(map[string]string{
		HeaderWorkspaceID: "ws-1",
		HeaderAttempt:     "2",
		HeaderEventType:   "run.completed",
		HeaderRunID:       "run-1",
	})
	keys := make([]string, 0, len(headers))
	for _, h := range headers {
		keys = append(keys, string(h.Key))
	}
	assert.Equal(t, []string{HeaderAttempt, HeaderEventType, HeaderRunID, HeaderWorkspaceID}, keys)
}

func TestNewSaramaConfig(t *testing.T) {
	sc := newSaramaConfig(ProducerConfig{ClientID: "reconciler", SendRetries: 7})
	assert.Equal(t, "reconciler", sc.ClientID)
	assert.True(t, sc.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, 1, sc.Net.MaxOpenRequests)
	assert.Equal(t, 7, sc.Producer.Retry.Max)
	require.NoError(t, sc.Validate())

	assert.Equal(t, 5, newSaramaConfig(ProducerConfig{}).Producer.Retry.Max)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{})
	assert.Error(t, err)
}

func TestNewRunCompletedEvent(t *testing.T) {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	result := domain.RunResult{
		RunID:       "run-2",
		WorkspaceID: "ws-1",
		AsOf:        now,
		Exceptions: []domain.Exception{
			{OrderID: "A1", Urgency: domain.UrgencyCritical},
			{OrderID: "A2", Urgency: domain.UrgencyCritical},
			{OrderID: "B1", Urgency: domain.UrgencyLow},
		},
		Snapshot: domain.RunSnapshot{PriorRunID: "run-1", Summary: map[string]float64{"orders": 3}},
	}

	event := NewRunCompletedEvent(result, now)

	if event.EventType != EventTypeRunCompleted {
		t.Errorf("expected %s, got %s", EventTypeRunCompleted, event.EventType)
	}
	if event.Exceptions != 3 {
		t.Errorf("expected 3 exceptions, got %d", event.Exceptions)
	}
	if event.ByUrgency["Critical"] != 2 || event.ByUrgency["Low"] != 1 || event.ByUrgency["High"] != 0 {
		t.Errorf("unexpected urgency breakdown: %v", event.ByUrgency)
	}
	if event.PriorRunID != "run-1" {
		t.Errorf("expected prior run-1, got %s", event.PriorRunID)
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["event_type"] != "run.completed" {
		t.Errorf("unexpected event_type in payload: %v", decoded["event_type"])
	}
}

func TestNewExceptionDetectedEvent(t *testing.T) {
	now := time.Now()
	event := NewExceptionDetectedEvent("ws-1", domain.Exception{
		RunID:          "run-1",
		OrderID:        "A1",
		Type:           domain.ExceptionSupplierNonResponse,
		Urgency:        domain.UrgencyCritical,
		ReasonCodes:    []string{"OPEN_RUNS_3"},
		SupplierRef:    "Acme",
		CustomerImpact: true,
		Explanation:    "Order A1 has stayed open for 3 consecutive runs without a supplier update (LateShipment).",
		NextAction:     "Escalate to supplier account manager; send the customer an update today.",
	}, now)

	if event.ExceptionType != "SupplierNonResponse" {
		t.Errorf("unexpected type %s", event.ExceptionType)
	}
	if event.Urgency != "Critical" {
		t.Errorf("unexpected urgency %s", event.Urgency)
	}
	if !event.CustomerImpact || event.WorkspaceID != "ws-1" || !event.Timestamp.Equal(now) {
		t.Errorf("unexpected event %+v", event)
	}
	if event.Explanation == "" || event.NextAction == "" {
		t.Errorf("explanation not carried: %+v", event)
	}
}
