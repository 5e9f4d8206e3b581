package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/models"
)

type memWriter struct {
	messages []kafka.Message
	err      error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestPublishOrderPlaced(t *testing.T) {
	w := &memWriter{}
	pub := NewEventPublisher(NewProducerWithWriter(w, zap.NewNop()))

	err := pub.PublishOrderPlaced(context.Background(), &models.OrderPlacedEvent{
		BaseEvent:   models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced, Timestamp: time.Now()},
		OrderID:     "o1",
		OrderNumber: "ORD-1",
		TotalAmount: decimal.RequireFromString("25.00"),
		ItemCount:   2,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "order-o1", string(w.messages[0].Key))

	var decoded models.OrderPlacedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, "ORD-1", decoded.OrderNumber)
	assert.True(t, decoded.TotalAmount.Equal(decimal.NewFromInt(25)))
}

func TestPublishWriteFailure(t *testing.T) {
	w := &memWriter{err: errors.New("broker down")}
	pub := NewEventPublisher(NewProducerWithWriter(w, zap.NewNop()))

	err := pub.PublishOrderPartial(context.Background(), &models.OrderPartialEvent{OrderID: "o1"})
	assert.Error(t, err)
}

func TestHandleMessageDispatch(t *testing.T) {
	h := NewEventHandler(zap.NewNop())
	var placed, partial, changed []string
	h.OnOrderPlaced(func(_ context.Context, e *models.OrderPlacedEvent) error {
		placed = append(placed, e.OrderID)
		return nil
	})
	h.OnOrderPartial(func(_ context.Context, e *models.OrderPartialEvent) error {
		partial = append(partial, e.OrderID)
		return nil
	})
	h.OnOrderStatusChanged(func(_ context.Context, e *models.OrderStatusChangedEvent) error {
		changed = append(changed, string(e.Status))
		return nil
	})

	send := func(v any) error {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return h.HandleMessage(context.Background(), kafka.Message{Value: b})
	}

	require.NoError(t, send(models.OrderPlacedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced}, OrderID: "o1"}))
	require.NoError(t, send(models.OrderPartialEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPartial}, OrderID: "o2"}))
	require.NoError(t, send(models.OrderStatusChangedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderStatusChanged}, OrderID: "o3", Status: models.OrderStatusShipped}))
	require.NoError(t, send(models.BaseEvent{EventType: "SOMETHING_ELSE"}))

	assert.Equal(t, []string{"o1"}, placed)
	assert.Equal(t, []string{"o2"}, partial)
	assert.Equal(t, []string{"shipped"}, changed)

	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}

func TestHandleMessageWithoutHandler(t *testing.T) {
	h := NewEventHandler(zap.NewNop())
	b, err := json.Marshal(models.OrderPlacedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced}})
	require.NoError(t, err)
	assert.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: b}))
}
