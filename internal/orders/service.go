// Package orders exposes order history to customers and order, customer and
// content management to admins.
package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"
)

// StatusPublisher announces admin status changes.
type StatusPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// HeroInput is the editable part of the hero section.
type HeroInput struct {
	ID         string  `json:"id"`
	Title      *string `json:"title"`
	Subtitle   *string `json:"subtitle"`
	ImageURL   *string `json:"image_url"`
	ButtonText *string `json:"button_text"`
	ButtonLink *string `json:"button_link"`
	IsActive   bool    `json:"is_active"`
}

type Service struct {
	publisher StatusPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the service. publisher may be nil.
func NewService(publisher StatusPublisher, logger *zap.Logger) *Service {
	return &Service{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// History returns the identity's orders, newest first, with their items.
func (s *Service) History(ctx context.Context, data backend.DataService, identity *models.Identity) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.History")
	defer span.End()

	if identity == nil {
		return nil, models.ErrUnauthenticated
	}
	return s.list(ctx, data, []backend.Filter{backend.Eq("user_id", identity.ID)})
}

// ListAll returns every order, newest first. Admin only.
func (s *Service) ListAll(ctx context.Context, data backend.DataService, identity *models.Identity) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListAll")
	defer span.End()

	if err := requireAdmin(identity); err != nil {
		return nil, err
	}
	return s.list(ctx, data, nil)
}

// UpdateStatus moves an order to status. Admin only.
func (s *Service) UpdateStatus(ctx context.Context, data backend.DataService, identity *models.Identity, orderID string, status models.OrderStatus) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if err := requireAdmin(identity); err != nil {
		return err
	}
	if !status.Valid() {
		return models.NewValidationError("status", "must be one of pending, processing, shipped, delivered, canceled")
	}

	var existing []models.Order
	err := data.Select(ctx, backend.Query{
		Table:   models.TableOrders,
		Filters: []backend.Filter{backend.Eq("id", orderID)},
		Limit:   1,
	}, &existing)
	if err != nil {
		return &models.RemoteError{Op: "load order", Err: err}
	}
	if len(existing) == 0 {
		return models.ErrNotFound
	}

	err = data.Update(ctx, models.TableOrders,
		map[string]any{"status": status, "updated_at": s.now().UTC()},
		[]backend.Filter{backend.Eq("id", orderID)})
	if err != nil {
		return &models.RemoteError{Op: "update order status", Err: err}
	}

	s.logger.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(existing[0].Status)),
		zap.String("to", string(status)),
		zap.String("admin_id", identity.ID),
	)

	if s.publisher != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderStatusChanged,
				Timestamp: s.now(),
			},
			OrderID:   orderID,
			Status:    status,
			ChangedBy: identity.ID,
		}
		if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("failed to publish status change", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return nil
}

// ListCustomers returns customer profiles, newest first. Admin only.
func (s *Service) ListCustomers(ctx context.Context, data backend.DataService, identity *models.Identity) ([]models.Profile, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListCustomers")
	defer span.End()

	if err := requireAdmin(identity); err != nil {
		return nil, err
	}
	var customers []models.Profile
	err := data.Select(ctx, backend.Query{
		Table:   models.TableProfiles,
		Filters: []backend.Filter{backend.Eq("role", models.RoleCustomer)},
		Order:   []backend.Order{backend.Desc("created_at")},
	}, &customers)
	if err != nil {
		return nil, &models.RemoteError{Op: "list customers", Err: err}
	}
	return customers, nil
}

// SaveHeroContent updates the hero section when in.ID is set and creates it
// otherwise. Admin only.
func (s *Service) SaveHeroContent(ctx context.Context, data backend.DataService, identity *models.Identity, in HeroInput) (*models.HomepageContent, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SaveHeroContent")
	defer span.End()

	if err := requireAdmin(identity); err != nil {
		return nil, err
	}

	fields := map[string]any{
		"section":     models.SectionHero,
		"title":       in.Title,
		"subtitle":    in.Subtitle,
		"image_url":   in.ImageURL,
		"button_text": in.ButtonText,
		"button_link": in.ButtonLink,
		"is_active":   in.IsActive,
		"updated_at":  s.now().UTC(),
	}

	if in.ID != "" {
		err := data.Update(ctx, models.TableHomepageContent, fields,
			[]backend.Filter{backend.Eq("id", in.ID)})
		if err != nil {
			return nil, &models.RemoteError{Op: "update hero content", Err: err}
		}
	} else {
		if err := data.Insert(ctx, models.TableHomepageContent, fields, nil); err != nil {
			return nil, &models.RemoteError{Op: "create hero content", Err: err}
		}
	}

	var rows []models.HomepageContent
	err := data.Select(ctx, backend.Query{
		Table:   models.TableHomepageContent,
		Filters: []backend.Filter{backend.Eq("section", models.SectionHero)},
		Order:   []backend.Order{backend.Desc("updated_at")},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, &models.RemoteError{Op: "load hero content", Err: err}
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return &rows[0], nil
}

// PendingWithoutItems returns pending orders created before cutoff that have
// no order items. These are orders whose checkout stopped after the order row.
func (s *Service) PendingWithoutItems(ctx context.Context, data backend.DataService, cutoff time.Time) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PendingWithoutItems")
	defer span.End()

	orders, err := s.list(ctx, data, []backend.Filter{
		backend.Eq("status", models.OrderStatusPending),
		backend.Lt("created_at", cutoff.UTC()),
	})
	if err != nil {
		return nil, err
	}
	var empty []models.Order
	for _, o := range orders {
		if len(o.Items) == 0 {
			empty = append(empty, o)
		}
	}
	return empty, nil
}

// list selects orders newest first and attaches their items with one extra query.
func (s *Service) list(ctx context.Context, data backend.DataService, filters []backend.Filter) ([]models.Order, error) {
	var orders []models.Order
	err := data.Select(ctx, backend.Query{
		Table:   models.TableOrders,
		Filters: filters,
		Order:   []backend.Order{backend.Desc("created_at")},
	}, &orders)
	if err != nil {
		return nil, &models.RemoteError{Op: "list orders", Err: err}
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	var items []models.OrderItem
	err = data.Select(ctx, backend.Query{
		Table:   models.TableOrderItems,
		Filters: []backend.Filter{backend.In("order_id", ids)},
		Order:   []backend.Order{backend.Asc("id")},
	}, &items)
	if err != nil {
		return nil, &models.RemoteError{Op: "list order items", Err: err}
	}

	byOrder := make(map[string][]models.OrderItem, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, nil
}

func requireAdmin(identity *models.Identity) error {
	if identity == nil {
		return models.ErrUnauthenticated
	}
	if !identity.IsAdmin() {
		return models.ErrForbidden
	}
	return nil
}
