package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookstore-backend/pkg/enums"
)

// Cart is the durable snapshot of a key-value cart, written on logout,
// guest merge, abandonment or order conversion.
type Cart struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	UserID         *uuid.UUID       `gorm:"column:user_id;type:uuid;index"`
	SessionID      *string          `gorm:"column:session_id;index"`
	IsGuest        bool             `gorm:"column:is_guest;not null;default:false"`
	Status         enums.CartStatus `gorm:"column:status;type:text;not null"`
	TotalAmount    decimal.Decimal  `gorm:"column:total_amount;type:numeric(12,2);not null;default:0"`
	DiscountAmount decimal.Decimal  `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	FinalAmount    decimal.Decimal  `gorm:"column:final_amount;type:numeric(12,2);not null;default:0"`
	ItemCount      int              `gorm:"column:item_count;not null;default:0"`
	Items          []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
