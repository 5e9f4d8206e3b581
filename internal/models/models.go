package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Table names on the remote data service
const (
	TableProfiles        = "profiles"
	TableCategories      = "categories"
	TableProducts        = "products"
	TableReviews         = "reviews"
	TableOrders          = "orders"
	TableOrderItems      = "order_items"
	TableCartItems       = "cart_items"
	TableHomepageContent = "homepage_content"
)

// Role is the access level of an identity
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Identity is the authenticated actor performing cart and checkout operations
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsAdmin reports whether the identity may use the admin console
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Profile enriches an identity and supplies checkout defaults
type Profile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   *string   `json:"full_name"`
	Role       Role      `json:"role"`
	Phone      *string   `json:"phone"`
	Address    *string   `json:"address"`
	City       *string   `json:"city"`
	PostalCode *string   `json:"postal_code"`
	Country    *string   `json:"country"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Category groups products in the catalog
type Category struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Description  *string   `json:"description"`
	ImageURL     *string   `json:"image_url"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Product is read-only to the storefront core
type Product struct {
	ID             string           `json:"id"`
	CategoryID     *string          `json:"category_id"`
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	Description    *string          `json:"description"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price"`
	Stock          int              `json:"stock"`
	ImageURL       *string          `json:"image_url"`
	Images         []string         `json:"images"`
	IsFeatured     bool             `json:"is_featured"`
	IsActive       bool             `json:"is_active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ReviewAuthor is the subset of a profile shown next to a review
type ReviewAuthor struct {
	FullName *string `json:"full_name"`
	Email    string  `json:"email"`
}

// Review is a customer rating of a product
type Review struct {
	ID        string        `json:"id"`
	ProductID string        `json:"product_id"`
	UserID    string        `json:"user_id"`
	Rating    int           `json:"rating"`
	Title     *string       `json:"title"`
	Comment   *string       `json:"comment"`
	CreatedAt time.Time     `json:"created_at"`
	User      *ReviewAuthor `json:"user,omitempty"`
}

// CartItem is one line of a user's in-progress cart
type CartItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Product   *Product  `json:"product,omitempty"`
}

// LineTotal is quantity times the current product price
func (c CartItem) LineTotal() decimal.Decimal {
	if c.Product == nil {
		return decimal.Zero
	}
	return c.Product.Price.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// OrderStatus is the fulfilment state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCanceled   OrderStatus = "canceled"
)

// Valid reports whether s is one of the known statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCanceled:
		return true
	}
	return false
}

// Payment methods offered at checkout
const (
	PaymentCashOnDelivery = "cash_on_delivery"
	PaymentCard           = "card"
	PaymentBankTransfer   = "bank_transfer"
)

// Order is created exactly once per checkout
type Order struct {
	ID                 string          `json:"id"`
	UserID             *string         `json:"user_id"`
	OrderNumber        string          `json:"order_number"`
	Status             OrderStatus     `json:"status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	ShippingName       string          `json:"shipping_name"`
	ShippingEmail      string          `json:"shipping_email"`
	ShippingPhone      *string         `json:"shipping_phone"`
	ShippingAddress    string          `json:"shipping_address"`
	ShippingCity       string          `json:"shipping_city"`
	ShippingPostalCode string          `json:"shipping_postal_code"`
	ShippingCountry    string          `json:"shipping_country"`
	PaymentMethod      string          `json:"payment_method"`
	Notes              *string         `json:"notes"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Items              []OrderItem     `json:"items,omitempty"`
}

// OrderItem is an immutable snapshot of a cart line at order time
type OrderItem struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	ProductID    *string         `json:"product_id"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	ProductName  string          `json:"product_name"`
	ProductImage *string         `json:"product_image"`
}

// HomepageContent is an editable section of the storefront home page
type HomepageContent struct {
	ID         string    `json:"id"`
	Section    string    `json:"section"`
	Title      *string   `json:"title"`
	Subtitle   *string   `json:"subtitle"`
	ImageURL   *string   `json:"image_url"`
	ButtonText *string   `json:"button_text"`
	ButtonLink *string   `json:"button_link"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SectionHero is the homepage_content section shown at the top of the home page
const SectionHero = "hero"

// ShippingInfo is captured by the checkout form
type ShippingInfo struct {
	FullName      string `json:"full_name" validate:"required,notblank"`
	Email         string `json:"email" validate:"required,email"`
	Phone         string `json:"phone"`
	Address       string `json:"address" validate:"required,notblank"`
	City          string `json:"city" validate:"required,notblank"`
	PostalCode    string `json:"postal_code" validate:"required,notblank"`
	Country       string `json:"country" validate:"required,notblank"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=cash_on_delivery card bank_transfer"`
	Notes         string `json:"notes"`
}

// ShippingDefaults pre-fills a checkout form from the profile
func ShippingDefaults(p *Profile) ShippingInfo {
	info := ShippingInfo{PaymentMethod: PaymentCashOnDelivery}
	if p == nil {
		return info
	}
	info.Email = p.Email
	info.FullName = deref(p.FullName)
	info.Phone = deref(p.Phone)
	info.Address = deref(p.Address)
	info.City = deref(p.City)
	info.PostalCode = deref(p.PostalCode)
	info.Country = deref(p.Country)
	return info
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
