package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is what goes onto the order-events topic. Consumers (the
// notification worker here, anything else downstream) get the fact, not the
// full row.
type OrderEvent struct {
	Type    string    `json:"type"`
	OrderID uuid.UUID `json:"order_id"`
	UserID  string    `json:"user_id"`
	Status  Status    `json:"status"`
	Actor   Actor     `json:"actor,omitempty"`
	At      time.Time `json:"at"`
}
