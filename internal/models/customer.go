package models

import (
	"time"

	"github.com/google/uuid"
)

type Customer struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Email            string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	FullName         string    `gorm:"size:200" json:"full_name"`
	StripeCustomerID string    `gorm:"size:255;index" json:"stripe_customer_id"`
	TotalOrders      int       `gorm:"not null;default:0" json:"total_orders"`
	TotalSpentCents  int64     `gorm:"not null;default:0" json:"total_spent_cents"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// ShippingAddress belongs to a customer; orders reference the address
// chosen at checkout time.
type ShippingAddress struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	CustomerID   uuid.UUID `gorm:"type:uuid;not null;index" json:"customer_id"`
	FullName     string    `gorm:"size:200;not null" json:"full_name"`
	AddressLine1 string    `gorm:"size:255;not null" json:"address_line_1"`
	AddressLine2 string    `gorm:"size:255" json:"address_line_2"`
	City         string    `gorm:"size:100;not null" json:"city"`
	State        string    `gorm:"size:2;not null" json:"state"`
	PostalCode   string    `gorm:"size:10;not null" json:"postal_code"`
	Country      string    `gorm:"size:100;not null;default:'United States'" json:"country"`
	IsDefault    bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (ShippingAddress) TableName() string {
	return "shipping_addresses"
}
