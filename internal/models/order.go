package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusArchived   = "archived"
)

// Order is the business-effect target of fulfillment. The unique index
// on stripe_checkout_session_id serializes concurrent fulfillment of the
// same session: the loser's insert fails and it takes the
// update-in-place branch instead. StockDeducted guards against a second
// stock decrement for the same order.
type Order struct {
	ID                      uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	CustomerID              uuid.UUID  `gorm:"type:uuid;not null;index" json:"customer_id"`
	OrderNumber             string     `gorm:"size:100;not null;uniqueIndex" json:"order_number"`
	Status                  string     `gorm:"not null;default:'pending';index" json:"status"`
	TotalCents              int64      `gorm:"not null" json:"total_cents"`
	ShippingAddressID       *uuid.UUID `gorm:"type:uuid" json:"shipping_address_id"`
	StripePaymentIntentID   string     `gorm:"size:255" json:"stripe_payment_intent_id"`
	StripeCheckoutSessionID *string    `gorm:"size:255;uniqueIndex" json:"stripe_checkout_session_id"`
	ShippingCostCents       int64      `gorm:"not null;default:0" json:"shipping_cost_cents"`
	ShippingMethod          string     `gorm:"size:100" json:"shipping_method"`
	TrackingNumber          string     `gorm:"size:200" json:"tracking_number"`
	StockDeducted           bool       `gorm:"not null;default:false" json:"stock_deducted"`
	IsArchived              bool       `gorm:"not null;default:false;index" json:"is_archived"`
	ArchivedAt              *time.Time `json:"archived_at"`
	CreatedAt               time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"not null" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// NewOrderNumber derives a short human-facing order number.
// Example: "3F2A9C1B".
func NewOrderNumber() string {
	return strings.ToUpper(uuid.New().String()[:8])
}

// OrderItem captures quantity and unit price at creation time. Price is
// copied by value, so later catalog price changes never alter
// historical orders.
type OrderItem struct {
	ID         int64     `gorm:"primary_key;autoIncrement" json:"id"`
	OrderID    uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID  uuid.UUID `gorm:"type:uuid;not null" json:"product_id"`
	Quantity   int       `gorm:"not null" json:"quantity"`
	PriceCents int64     `gorm:"not null" json:"price_cents"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// TotalCents returns quantity times the captured unit price
func (i *OrderItem) TotalCents() int64 {
	return int64(i.Quantity) * i.PriceCents
}
