package application

import (
	"context"
	"fmt"

	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
)

// Notifier consumes order events and tells the buyer what happened. Dispatch
// is log-only for now; the SMS gateway hookup replaces the logger call once
// credentials exist.
type Notifier struct{}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) HandleOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	var msg string
	switch {
	case ev.Type == domain.EventOrderCreated:
		msg = "Your order has been placed"
	case ev.Status == domain.StatusProcessing:
		msg = "Your order is being prepared"
	case ev.Status == domain.StatusShipped:
		msg = "Your order is on the way"
	case ev.Status == domain.StatusDelivered:
		msg = "Your order has been delivered"
	case ev.Status == domain.StatusCancelled:
		msg = "Your order has been cancelled"
	default:
		msg = fmt.Sprintf("Your order is now %s", ev.Status)
	}

	logger.Info("notify customer", "user_id", ev.UserID, "order_id", ev.OrderID, "message", msg)
	return nil
}
