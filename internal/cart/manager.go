// Package cart keeps the local view of a user's cart in step with the remote
// cart_items table. Every mutation is confirmed by reloading the remote state.
package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/util"
)

// DataSource supplies the data service scoped to the current session.
type DataSource interface {
	Data() backend.DataService
}

// Snapshot is a point-in-time copy of the cart.
type Snapshot struct {
	UserID string            `json:"user_id"`
	Items  []models.CartItem `json:"items"`
	Count  int               `json:"count"`
	Total  decimal.Decimal   `json:"total"`
}

// Manager is safe for concurrent use.
type Manager struct {
	source DataSource
	logger *zap.Logger

	mu       sync.RWMutex
	identity *models.Identity
	items    []models.CartItem
	loadSeq  uint64
}

func NewManager(source DataSource, logger *zap.Logger) *Manager {
	return &Manager{
		source: source,
		logger: logger,
	}
}

// IdentityChanged reloads the cart for the new identity.
func (m *Manager) IdentityChanged(ctx context.Context, identity *models.Identity) error {
	return m.Load(ctx, identity)
}

// Load replaces the local view with the remote cart of identity. A nil
// identity empties the view.
func (m *Manager) Load(ctx context.Context, identity *models.Identity) error {
	ctx, span := util.StartSpan(ctx, "CartManager.Load")
	defer span.End()

	m.mu.Lock()
	m.loadSeq++
	seq := m.loadSeq
	switched := m.identity == nil || identity == nil || m.identity.ID != identity.ID
	if identity == nil {
		m.identity = nil
		m.items = nil
		m.mu.Unlock()
		return nil
	}
	id := *identity
	m.identity = &id
	if switched {
		// Never show the previous user's lines, even if the fetch below fails.
		m.items = nil
	}
	m.mu.Unlock()

	items, err := m.fetch(ctx, id.ID)
	if err != nil {
		util.CartOperationsTotal.WithLabelValues("load", "error").Inc()
		m.logger.Error("failed to load cart", zap.String("user_id", id.ID), zap.Error(err))
		return &models.RemoteError{Op: "load cart", Err: err}
	}

	m.mu.Lock()
	if seq == m.loadSeq {
		m.items = items
	}
	m.mu.Unlock()
	util.CartOperationsTotal.WithLabelValues("load", "ok").Inc()
	return nil
}

// Items returns a copy of the cart lines ordered by creation.
func (m *Manager) Items() []models.CartItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyItems(m.items)
}

// Count is the sum of quantities.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return count(m.items)
}

// Total is the sum of line totals at current product prices.
func (m *Manager) Total() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return total(m.items)
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{
		Items: copyItems(m.items),
		Count: count(m.items),
		Total: total(m.items),
	}
	if m.identity != nil {
		s.UserID = m.identity.ID
	}
	return s
}

// Add puts qty units of the product into the cart, merging with an existing
// line. The resulting quantity is clamped to the product's stock.
func (m *Manager) Add(ctx context.Context, productID string, qty int) error {
	ctx, span := util.StartSpan(ctx, "CartManager.Add")
	defer span.End()

	identity, err := m.requireIdentity()
	if err != nil {
		return err
	}
	if qty < 1 {
		qty = 1
	}

	data := m.source.Data()
	product, err := m.product(ctx, data, productID)
	if err != nil {
		return m.fail(ctx, "add", err)
	}
	if product.Stock < 1 {
		return models.NewValidationError("quantity", "product is out of stock")
	}

	existing, err := m.lineFor(ctx, data, identity.ID, productID)
	if err != nil {
		return m.fail(ctx, "add", &models.RemoteError{Op: "find cart line", Err: err})
	}

	if existing != nil {
		err = data.Update(ctx, models.TableCartItems,
			map[string]any{"quantity": clamp(existing.Quantity+qty, product.Stock)},
			[]backend.Filter{backend.Eq("id", existing.ID)})
	} else {
		err = data.Insert(ctx, models.TableCartItems, newLine{
			UserID:    identity.ID,
			ProductID: productID,
			Quantity:  clamp(qty, product.Stock),
		}, nil)
	}
	if err != nil {
		return m.fail(ctx, "add", &models.RemoteError{Op: "add to cart", Err: err})
	}
	return m.confirm(ctx, "add")
}

// UpdateQuantity sets the quantity of one line, clamped to stock. A quantity
// below one removes the line.
func (m *Manager) UpdateQuantity(ctx context.Context, itemID string, qty int) error {
	if qty < 1 {
		return m.Remove(ctx, itemID)
	}

	ctx, span := util.StartSpan(ctx, "CartManager.UpdateQuantity")
	defer span.End()

	identity, err := m.requireIdentity()
	if err != nil {
		return err
	}

	data := m.source.Data()
	var lines []models.CartItem
	err = data.Select(ctx, backend.Query{
		Table:   models.TableCartItems,
		Filters: []backend.Filter{backend.Eq("id", itemID), backend.Eq("user_id", identity.ID)},
		Limit:   1,
	}, &lines)
	if err != nil {
		return m.fail(ctx, "update", &models.RemoteError{Op: "find cart line", Err: err})
	}
	if len(lines) == 0 {
		return m.fail(ctx, "update", models.ErrNotFound)
	}

	product, err := m.product(ctx, data, lines[0].ProductID)
	if err != nil {
		return m.fail(ctx, "update", err)
	}
	if product.Stock < 1 {
		return models.NewValidationError("quantity", "product is out of stock")
	}

	err = data.Update(ctx, models.TableCartItems,
		map[string]any{"quantity": clamp(qty, product.Stock)},
		[]backend.Filter{backend.Eq("id", itemID), backend.Eq("user_id", identity.ID)})
	if err != nil {
		return m.fail(ctx, "update", &models.RemoteError{Op: "update cart line", Err: err})
	}
	return m.confirm(ctx, "update")
}

// Remove deletes one line. Removing a line that does not exist succeeds.
func (m *Manager) Remove(ctx context.Context, itemID string) error {
	ctx, span := util.StartSpan(ctx, "CartManager.Remove")
	defer span.End()

	identity, err := m.requireIdentity()
	if err != nil {
		return err
	}

	err = m.source.Data().Delete(ctx, models.TableCartItems,
		[]backend.Filter{backend.Eq("id", itemID), backend.Eq("user_id", identity.ID)})
	if err != nil {
		return m.fail(ctx, "remove", &models.RemoteError{Op: "remove cart line", Err: err})
	}
	return m.confirm(ctx, "remove")
}

// Clear deletes every line of the current user's cart.
func (m *Manager) Clear(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "CartManager.Clear")
	defer span.End()

	identity, err := m.requireIdentity()
	if err != nil {
		return err
	}

	err = m.source.Data().Delete(ctx, models.TableCartItems,
		[]backend.Filter{backend.Eq("user_id", identity.ID)})
	if err != nil {
		return m.fail(ctx, "clear", &models.RemoteError{Op: "clear cart", Err: err})
	}
	return m.confirm(ctx, "clear")
}

// ClearItems deletes the given lines of the current user's cart. Lines added
// after the ids were read, from this or another instance, are kept.
func (m *Manager) ClearItems(ctx context.Context, itemIDs []string) error {
	ctx, span := util.StartSpan(ctx, "CartManager.ClearItems")
	defer span.End()

	identity, err := m.requireIdentity()
	if err != nil {
		return err
	}
	if len(itemIDs) == 0 {
		return nil
	}

	err = m.source.Data().Delete(ctx, models.TableCartItems,
		[]backend.Filter{backend.In("id", itemIDs), backend.Eq("user_id", identity.ID)})
	if err != nil {
		return m.fail(ctx, "clear", &models.RemoteError{Op: "clear cart lines", Err: err})
	}
	return m.confirm(ctx, "clear")
}

// Refresh reloads the current user's cart and returns the fresh snapshot.
// Signed out, it returns the empty snapshot.
func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	identity := m.current()
	if identity == nil {
		return m.Snapshot(), nil
	}
	if err := m.Load(ctx, identity); err != nil {
		return Snapshot{}, err
	}
	return m.Snapshot(), nil
}

type newLine struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (m *Manager) requireIdentity() (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil, models.ErrUnauthenticated
	}
	id := *m.identity
	return &id, nil
}

func (m *Manager) current() *models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return nil
	}
	id := *m.identity
	return &id
}

// confirm reloads after a successful mutation.
func (m *Manager) confirm(ctx context.Context, op string) error {
	if err := m.Load(ctx, m.current()); err != nil {
		util.CartOperationsTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	util.CartOperationsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

// fail resynchronises the local view after a failed mutation and returns cause.
func (m *Manager) fail(ctx context.Context, op string, cause error) error {
	util.CartOperationsTotal.WithLabelValues(op, "error").Inc()
	if errors.Is(cause, models.ErrRemote) {
		m.logger.Error("cart mutation failed", zap.String("op", op), zap.Error(cause))
		if err := m.Load(ctx, m.current()); err != nil {
			m.logger.Warn("cart resync failed", zap.Error(err))
		}
	}
	return cause
}

func (m *Manager) product(ctx context.Context, data backend.DataService, productID string) (*models.Product, error) {
	var rows []models.Product
	err := data.Select(ctx, backend.Query{
		Table:   models.TableProducts,
		Filters: []backend.Filter{backend.Eq("id", productID)},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, &models.RemoteError{Op: "load product", Err: err}
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return &rows[0], nil
}

func (m *Manager) lineFor(ctx context.Context, data backend.DataService, userID, productID string) (*models.CartItem, error) {
	var rows []models.CartItem
	err := data.Select(ctx, backend.Query{
		Table:   models.TableCartItems,
		Filters: []backend.Filter{backend.Eq("user_id", userID), backend.Eq("product_id", productID)},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// fetch reads the cart lines of userID with their products.
func (m *Manager) fetch(ctx context.Context, userID string) ([]models.CartItem, error) {
	data := m.source.Data()

	var items []models.CartItem
	err := data.Select(ctx, backend.Query{
		Table:   models.TableCartItems,
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
		Order:   []backend.Order{backend.Asc("created_at"), backend.Asc("id")},
	}, &items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []models.CartItem{}, nil
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}

	var products []models.Product
	err = data.Select(ctx, backend.Query{
		Table:   models.TableProducts,
		Filters: []backend.Filter{backend.In("id", ids)},
	}, &products)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	for i := range items {
		items[i].Product = byID[items[i].ProductID]
	}
	return items, nil
}

func clamp(qty, stock int) int {
	if qty > stock {
		qty = stock
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}

func count(items []models.CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

func total(items []models.CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

func copyItems(items []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, len(items))
	for i, it := range items {
		out[i] = it
		if it.Product != nil {
			p := *it.Product
			out[i].Product = &p
		}
	}
	return out
}
