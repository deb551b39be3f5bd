package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/examplan/internal/config"
	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
)

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	calls    int
	err      error
	deadline bool
}

func (f *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.calls++
	f.exchange, f.key, f.msg = exchange, key, msg
	_, f.deadline = ctx.Deadline()
	return f.err
}

func testConfig() config.RabbitMQConfig {
	return config.RabbitMQConfig{Exchange: "examplan.alerts", RoutingKey: "alert", PublishTimeout: time.Second}
}

func TestAMQPSinkPublish(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAMQPSink(pub, testConfig(), "examplan-test")
	fixed := time.Date(2025, 9, 8, 8, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	alerts := []model.Alert{
		{ID: "a1", Kind: model.AlertFatigue, Level: model.RiskMedium},
		{ID: "a2", Kind: model.AlertConflictRate, Level: model.RiskHigh},
	}
	require.NoError(t, sink.Publish(context.Background(), alerts))

	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, "examplan.alerts", pub.exchange)
	assert.Equal(t, "alert", pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)
	assert.True(t, pub.deadline, "投递应带超时")

	var msg AlertMessage
	require.NoError(t, json.Unmarshal(pub.msg.Body, &msg))
	assert.Equal(t, "examplan-test", msg.Source)
	assert.Equal(t, "HIGH", msg.Highest)
	assert.Equal(t, []string{"FATIGUE", "CONFLICT_RATE"}, msg.Kinds)
	assert.Len(t, msg.Alerts, 2)
}

func TestAMQPSinkSkipsEmpty(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, NewAMQPSink(pub, testConfig(), "x").Publish(context.Background(), nil))
	assert.Zero(t, pub.calls)
}

func TestAMQPSinkWrapsError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	err := NewAMQPSink(pub, testConfig(), "x").Publish(context.Background(), []model.Alert{{ID: "a1"}})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotifyFailed))
}
