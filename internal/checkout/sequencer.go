// Package checkout turns a cart into an order through a fixed, non-resumable
// sequence of remote writes.
package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/util"
)

// State is a step of one checkout attempt.
type State string

const (
	StateIdle         State = "idle"
	StateValidating   State = "validating"
	StateFailed       State = "failed"
	StatePlacingOrder State = "placing_order"
	StateOrderFailed  State = "order_failed"
	StatePlacingItems State = "placing_items"
	StateItemsFailed  State = "items_failed"
	StateClearingCart State = "clearing_cart"
	StateDone         State = "done"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateFailed, StateOrderFailed, StateItemsFailed, StateDone:
		return true
	}
	return false
}

// Cart is the part of the cart manager checkout depends on.
type Cart interface {
	// Refresh rereads the remote cart so the order never prices a stale view.
	Refresh(ctx context.Context) (cart.Snapshot, error)
	ClearItems(ctx context.Context, itemIDs []string) error
}

// EventPublisher announces checkout outcomes. Failures are logged only.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderPartial(ctx context.Context, event *models.OrderPartialEvent) error
}

// Locker guards against the same user checking out from two instances at once.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

var errNoRowReturned = errors.New("backend returned no order row")

type Option func(*Sequencer)

func WithPublisher(p EventPublisher) Option {
	return func(s *Sequencer) { s.publisher = p }
}

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Sequencer) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// WithOrderNumbers replaces the order number generator.
func WithOrderNumbers(gen func() string) Option {
	return func(s *Sequencer) { s.orderNumber = gen }
}

// Sequencer runs at most one checkout attempt at a time.
type Sequencer struct {
	source    cart.DataSource
	cart      Cart
	publisher EventPublisher
	locker    Locker
	lockTTL   time.Duration
	validate  *validator.Validate
	logger    *zap.Logger

	orderNumber func() string
	inFlight    atomic.Bool

	mu      sync.Mutex
	history []State
}

func NewSequencer(source cart.DataSource, c Cart, logger *zap.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		source:      source,
		cart:        c,
		validate:    newValidator(),
		logger:      logger,
		orderNumber: NewOrderNumber,
		lockTTL:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the state of the latest attempt, Idle before the first one.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return StateIdle
	}
	return s.history[len(s.history)-1]
}

// History returns the states visited by the latest attempt.
func (s *Sequencer) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

func (s *Sequencer) transition(to State) {
	s.mu.Lock()
	s.history = append(s.history, to)
	s.mu.Unlock()
	if to.Terminal() {
		util.CheckoutsTotal.WithLabelValues(string(to)).Inc()
	}
}

// Submit places an order for the current cart and returns its order number.
// A call made while another is running fails with ErrCheckoutInProgress.
func (s *Sequencer) Submit(ctx context.Context, info models.ShippingInfo) (string, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return "", models.ErrCheckoutInProgress
	}
	defer s.inFlight.Store(false)

	ctx, span := util.StartSpan(ctx, "CheckoutSequencer.Submit")
	defer span.End()
	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	s.history = []State{StateIdle}
	s.mu.Unlock()

	s.transition(StateValidating)
	snap, err := s.cart.Refresh(ctx)
	if err != nil {
		s.transition(StateFailed)
		return "", err
	}
	if info.PaymentMethod == "" {
		info.PaymentMethod = models.PaymentCashOnDelivery
	}
	// A signed-out cart is empty, so it fails validation first.
	if err := validateSubmission(s.validate, info, snap); err != nil {
		s.transition(StateFailed)
		return "", err
	}
	if snap.UserID == "" {
		s.transition(StateFailed)
		return "", models.ErrUnauthenticated
	}

	if s.locker != nil {
		key := "checkout:lock:" + snap.UserID
		acquired, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
		switch {
		case err != nil:
			s.logger.Warn("checkout lock unavailable, relying on local guard",
				zap.String("user_id", snap.UserID), zap.Error(err))
		case !acquired:
			s.transition(StateFailed)
			return "", models.ErrCheckoutInProgress
		default:
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), key); err != nil {
					s.logger.Warn("failed to release checkout lock", zap.Error(err))
				}
			}()
		}
	}

	data := s.source.Data()
	orderNumber := s.orderNumber()

	s.transition(StatePlacingOrder)
	userID := snap.UserID
	var created []models.Order
	err = data.Insert(ctx, models.TableOrders, newOrder{
		UserID:             &userID,
		OrderNumber:        orderNumber,
		Status:             models.OrderStatusPending,
		TotalAmount:        snap.Total,
		ShippingName:       strings.TrimSpace(info.FullName),
		ShippingEmail:      strings.TrimSpace(info.Email),
		ShippingPhone:      optional(info.Phone),
		ShippingAddress:    strings.TrimSpace(info.Address),
		ShippingCity:       strings.TrimSpace(info.City),
		ShippingPostalCode: strings.TrimSpace(info.PostalCode),
		ShippingCountry:    strings.TrimSpace(info.Country),
		PaymentMethod:      info.PaymentMethod,
		Notes:              optional(info.Notes),
	}, &created)
	if err == nil && len(created) == 0 {
		err = errNoRowReturned
	}
	if err != nil {
		s.transition(StateOrderFailed)
		s.logger.Error("failed to create order", zap.String("order_number", orderNumber), zap.Error(err))
		return "", &models.RemoteError{Op: "create order", Err: err}
	}
	order := created[0]

	s.transition(StatePlacingItems)
	if err := data.Insert(ctx, models.TableOrderItems, orderLines(order.ID, snap.Items), nil); err != nil {
		s.transition(StateItemsFailed)
		util.PartialOrdersTotal.Inc()
		s.logger.Error("order created without items, needs reconciliation",
			zap.String("order_id", order.ID),
			zap.String("order_number", orderNumber),
			zap.Error(err),
		)
		s.publishPartial(ctx, order, err)
		return "", &models.PartialOrderError{OrderID: order.ID, OrderNumber: orderNumber, Err: err}
	}

	s.transition(StateClearingCart)
	if err := s.cart.ClearItems(ctx, lineIDs(snap.Items)); err != nil {
		s.logger.Error("failed to clear cart after checkout",
			zap.String("order_number", orderNumber), zap.Error(err))
	}

	s.transition(StateDone)
	util.OrdersCreatedTotal.Inc()
	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", orderNumber),
		zap.String("total", snap.Total.StringFixed(2)),
	)
	s.publishPlaced(ctx, order, snap)
	return orderNumber, nil
}

func (s *Sequencer) publishPlaced(ctx context.Context, order models.Order, snap cart.Snapshot) {
	if s.publisher == nil {
		return
	}
	event := &models.OrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      snap.UserID,
		TotalAmount: snap.Total,
		ItemCount:   len(snap.Items),
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("failed to publish order placed event", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (s *Sequencer) publishPartial(ctx context.Context, order models.Order, cause error) {
	if s.publisher == nil {
		return
	}
	userID := ""
	if order.UserID != nil {
		userID = *order.UserID
	}
	event := &models.OrderPartialEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPartial),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      userID,
		Reason:      cause.Error(),
	}
	if err := s.publisher.PublishOrderPartial(ctx, event); err != nil {
		s.logger.Error("failed to publish order partial event", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

type newOrder struct {
	UserID             *string            `json:"user_id"`
	OrderNumber        string             `json:"order_number"`
	Status             models.OrderStatus `json:"status"`
	TotalAmount        decimal.Decimal    `json:"total_amount"`
	ShippingName       string             `json:"shipping_name"`
	ShippingEmail      string             `json:"shipping_email"`
	ShippingPhone      *string            `json:"shipping_phone"`
	ShippingAddress    string             `json:"shipping_address"`
	ShippingCity       string             `json:"shipping_city"`
	ShippingPostalCode string             `json:"shipping_postal_code"`
	ShippingCountry    string             `json:"shipping_country"`
	PaymentMethod      string             `json:"payment_method"`
	Notes              *string            `json:"notes"`
}

type newOrderLine struct {
	OrderID      string          `json:"order_id"`
	ProductID    *string         `json:"product_id"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	ProductName  string          `json:"product_name"`
	ProductImage *string         `json:"product_image"`
}

// orderLines snapshots every cart line at its current product price.
func orderLines(orderID string, items []models.CartItem) []newOrderLine {
	lines := make([]newOrderLine, 0, len(items))
	for _, it := range items {
		productID := it.ProductID
		lines = append(lines, newOrderLine{
			OrderID:      orderID,
			ProductID:    &productID,
			Quantity:     it.Quantity,
			Price:        it.Product.Price,
			ProductName:  it.Product.Name,
			ProductImage: it.Product.ImageURL,
		})
	}
	return lines
}

func lineIDs(items []models.CartItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	return ids
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
