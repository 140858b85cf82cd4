package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the durable source for the role permission cache.
type Role struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name        string           `gorm:"column:name;not null;uniqueIndex"`
	Permissions []RolePermission `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Role) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

type RolePermission struct {
	RoleID     uuid.UUID `gorm:"column:role_id;type:uuid;primaryKey"`
	Permission string    `gorm:"column:permission;primaryKey"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// All lists every model managed by migrations, for AutoMigrate in tests.
func All() []any {
	return []any{
		&Author{},
		&Category{},
		&Book{},
		&Cart{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&ImportRun{},
		&Role{},
		&RolePermission{},
	}
}
