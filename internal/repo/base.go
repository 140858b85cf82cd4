package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the gorm repositories (import runs, roles) so each one
// gets a context-bound handle the same way.
type Base struct {
	conn *gorm.DB
}

// NewBase binds a Base to the provided connection or transaction.
func NewBase(conn *gorm.DB) Base {
	return Base{conn: conn}
}

// DB returns the connection bound to ctx. A nil ctx returns the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.conn
	}
	return b.conn.WithContext(ctx)
}
