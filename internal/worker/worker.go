package worker

import (
	"context"

	"go.uber.org/zap"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"
)

// Flagger records orders that need manual reconciliation.
type Flagger interface {
	FlagOrder(ctx context.Context, orderID string) (bool, error)
}

// Consumer is the part of broker.Consumer the worker drives.
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// OrderEventWorker handles background processing for order events
type OrderEventWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	flagger      Flagger
	logger       *zap.Logger
}

// NewOrderEventWorker creates a new order event worker
func NewOrderEventWorker(consumer Consumer, flagger Flagger, logger *zap.Logger) *OrderEventWorker {
	w := &OrderEventWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(logger),
		flagger:      flagger,
		logger:       logger,
	}

	w.eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler.OnOrderPartial(w.handleOrderPartial)
	w.eventHandler.OnOrderStatusChanged(w.handleStatusChanged)

	return w
}

// Handler exposes the event dispatcher
func (w *OrderEventWorker) Handler() *broker.EventHandler {
	return w.eventHandler
}

// Start starts the worker
func (w *OrderEventWorker) Start(ctx context.Context) error {
	w.logger.Info("starting order event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderEventWorker) Stop() error {
	w.logger.Info("stopping order event worker")
	return w.consumer.Close()
}

func (w *OrderEventWorker) handleOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	w.logger.Info("order placed",
		zap.String("order_number", event.OrderNumber),
		zap.Int("items", event.ItemCount),
		zap.String("total", event.TotalAmount.StringFixed(2)),
	)
	return nil
}

func (w *OrderEventWorker) handleOrderPartial(ctx context.Context, event *models.OrderPartialEvent) error {
	return flag(ctx, w.flagger, w.logger, event.OrderID, event.OrderNumber, "event")
}

func (w *OrderEventWorker) handleStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	w.logger.Info("order status changed",
		zap.String("order_id", event.OrderID),
		zap.String("status", string(event.Status)),
		zap.String("changed_by", event.ChangedBy),
	)
	return nil
}

func flag(ctx context.Context, flagger Flagger, logger *zap.Logger, orderID, orderNumber, source string) error {
	added, err := flagger.FlagOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if added {
		util.ReconcileFlaggedTotal.Inc()
		logger.Warn("order flagged for reconciliation",
			zap.String("order_id", orderID),
			zap.String("order_number", orderNumber),
			zap.String("source", source),
		)
	}
	return nil
}
