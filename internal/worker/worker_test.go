package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront/internal/backend/memory"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/orders"
)

type setFlagger struct {
	mu      sync.Mutex
	flagged map[string]bool
	err     error
}

func newSetFlagger() *setFlagger {
	return &setFlagger{flagged: map[string]bool{}}
}

func (f *setFlagger) FlagOrder(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.flagged[orderID] {
		return false, nil
	}
	f.flagged[orderID] = true
	return true, nil
}

type idleConsumer struct{ closed bool }

func (c *idleConsumer) StartConsuming(ctx context.Context, _ broker.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (c *idleConsumer) Close() error {
	c.closed = true
	return nil
}

func message(t *testing.T, v any) kafka.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestPartialOrderEventIsFlagged(t *testing.T) {
	flagger := newSetFlagger()
	w := NewOrderEventWorker(&idleConsumer{}, flagger, zap.NewNop())
	ctx := context.Background()

	partial := models.OrderPartialEvent{
		BaseEvent:   models.BaseEvent{EventType: models.EventTypeOrderPartial},
		OrderID:     "o1",
		OrderNumber: "ORD-1",
	}
	require.NoError(t, w.Handler().HandleMessage(ctx, message(t, partial)))
	require.NoError(t, w.Handler().HandleMessage(ctx, message(t, partial)))
	assert.Equal(t, map[string]bool{"o1": true}, flagger.flagged)

	placed := models.OrderPlacedEvent{
		BaseEvent:   models.BaseEvent{EventType: models.EventTypeOrderPlaced},
		OrderID:     "o2",
		TotalAmount: decimal.NewFromInt(5),
	}
	require.NoError(t, w.Handler().HandleMessage(ctx, message(t, placed)))
	assert.Len(t, flagger.flagged, 1)
}

func TestFlagFailureIsReturned(t *testing.T) {
	flagger := newSetFlagger()
	flagger.err = errors.New("redis down")
	w := NewOrderEventWorker(&idleConsumer{}, flagger, zap.NewNop())

	err := w.Handler().HandleMessage(context.Background(), message(t, models.OrderPartialEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPartial},
		OrderID:   "o1",
	}))
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	consumer := &idleConsumer{}
	w := NewOrderEventWorker(consumer, newSetFlagger(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Start(ctx), context.Canceled)
	require.NoError(t, w.Stop())
	assert.True(t, consumer.closed)
}

func TestSweepFlagsStaleOrdersWithoutItems(t *testing.T) {
	b := memory.New()
	now := time.Now().UTC()
	user := "u1"
	seed := func(id string, created time.Time, status models.OrderStatus) {
		require.NoError(t, b.Seed(models.TableOrders, models.Order{
			ID: id, UserID: &user, OrderNumber: "ORD-" + id, Status: status,
			TotalAmount: decimal.NewFromInt(10), CreatedAt: created, UpdatedAt: created,
		}))
	}
	seed("stale", now.Add(-time.Hour), models.OrderStatusPending)
	seed("fresh", now, models.OrderStatusPending)
	seed("shipped", now.Add(-time.Hour), models.OrderStatusShipped)
	seed("complete", now.Add(-time.Hour), models.OrderStatusPending)
	require.NoError(t, b.Seed(models.TableOrderItems, models.OrderItem{
		ID: "i1", OrderID: "complete", Quantity: 1, Price: decimal.NewFromInt(10), ProductName: "Mug",
	}))

	flagger := newSetFlagger()
	s := NewSweeper(b.Service(), orders.NewService(nil, zap.NewNop()), flagger, 10*time.Minute, zap.NewNop())

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, map[string]bool{"stale": true}, flagger.flagged)
}

func TestSweepPropagatesBackendFailure(t *testing.T) {
	b := memory.New()
	b.Fail("select", models.TableOrders, errors.New("down"))
	s := NewSweeper(b.Service(), orders.NewService(nil, zap.NewNop()), newSetFlagger(), time.Minute, zap.NewNop())

	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, models.ErrRemote)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(memory.New().Service(), orders.NewService(nil, zap.NewNop()), newSetFlagger(), time.Minute, zap.NewNop())
	assert.Error(t, s.Start(context.Background(), "not a schedule"))
	s.Stop()

	require.NoError(t, s.Start(context.Background(), "@every 1h"))
	s.Stop()
}
