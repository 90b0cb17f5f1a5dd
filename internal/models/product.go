package models

import (
	"time"

	"github.com/google/uuid"
)

type Product struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name          string    `gorm:"size:200;not null" json:"name"`
	Description   string    `json:"description"`
	PriceCents    int64     `gorm:"not null" json:"price_cents"`
	StockQuantity int       `gorm:"not null;default:0" json:"stock_quantity"`
	Slug          string    `gorm:"size:200;uniqueIndex" json:"slug"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

func (p *Product) InStock() bool {
	return p.StockQuantity > 0
}
