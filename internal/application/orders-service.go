package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
	"github.com/nhasan-dev/bazar-orders-service/internal/repository"
)

// Flat delivery charge in taka, waived above the free-shipping threshold.
const (
	flatShippingFee   int64 = 60
	freeShippingAbove int64 = 500
)

func shippingFeeFor(subtotal int64) int64 {
	if subtotal > freeShippingAbove {
		return 0
	}
	return flatShippingFee
}

// EventPublisher pushes lifecycle events to the order-events stream.
// Publishing is best effort: a broker outage must not fail a checkout or a
// transition that already committed.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev domain.OrderEvent) error
}

type OrdersService struct {
	repo          repository.OrderRepo
	publisher     EventPublisher
	returnApplies bool
}

func NewOrdersService(repo repository.OrderRepo, publisher EventPublisher, returnApplies bool) *OrdersService {
	return &OrdersService{
		repo:          repo,
		publisher:     publisher,
		returnApplies: returnApplies,
	}
}

type CheckoutInput struct {
	UserID        string
	Cart          *domain.Cart
	Address       domain.ShippingAddress
	PaymentMethod domain.PaymentMethod
	CustomerNote  string
}

// Checkout freezes the cart into an order in status pending. The order and
// its line items commit atomically; the cart is cleared only after the commit
// succeeded, so a failed write keeps the purchase intent.
func (s *OrdersService) Checkout(ctx context.Context, in CheckoutInput) (*domain.Order, error) {
	if in.Cart == nil || len(in.Cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	if err := in.Address.Validate(); err != nil {
		return nil, err
	}
	if !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPaymentMethod, in.PaymentMethod)
	}
	for _, it := range in.Cart.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", domain.ErrInvalidCartItem, it.ProductID)
		}
		if it.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: price for product %s is negative", domain.ErrInvalidCartItem, it.ProductID)
		}
		if it.ProductID == "" {
			return nil, fmt.Errorf("%w: product id is empty", domain.ErrInvalidCartItem)
		}
	}

	subtotal := in.Cart.Subtotal()
	fee := shippingFeeFor(subtotal)
	now := time.Now().UTC()

	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          in.UserID,
		TotalPrice:      subtotal + fee,
		ShippingFee:     fee,
		Address:         in.Address,
		PaymentMethod:   in.PaymentMethod,
		Status:          domain.StatusPending,
		CustomerNote:    in.CustomerNote,
		CreatedAt:       now,
		StatusChangedAt: now,
	}
	order.Items = make([]domain.LineItem, 0, len(in.Cart.Items))
	for _, it := range in.Cart.Items {
		order.Items = append(order.Items, domain.LineItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		logger.Warn("checkout: create order failed", "err", err)
		return nil, err
	}
	in.Cart.Clear()

	s.publish(ctx, domain.OrderEvent{
		Type:    domain.EventOrderCreated,
		OrderID: order.ID,
		UserID:  order.UserID,
		Status:  order.Status,
		At:      now,
	})

	logger.Info("order created", "order_id", order.ID, "total", order.TotalPrice, "method", order.PaymentMethod)
	return order, nil
}

// Transition is the one public mutation of order status. All triggers (the
// operator console, the reconciler, the redirect-back) funnel through here.
// applied=false means the idempotency key had already been used and nothing
// changed; no event is re-published in that case.
func (s *OrdersService) Transition(ctx context.Context, req repository.TransitionRequest) (*domain.Order, bool, error) {
	if !req.To.Valid() {
		return nil, false, fmt.Errorf("%w: unknown status %q", domain.ErrIllegalTransition, req.To)
	}

	order, applied, err := s.repo.Transition(ctx, req)
	if err != nil {
		return nil, false, err
	}

	if applied {
		s.publish(ctx, domain.OrderEvent{
			Type:    domain.EventOrderStatusChanged,
			OrderID: order.ID,
			UserID:  order.UserID,
			Status:  order.Status,
			Actor:   req.Actor,
			At:      order.StatusChangedAt,
		})
	}
	return order, applied, nil
}

func (s *OrdersService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderById(ctx, id)
}

func (s *OrdersService) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}

func (s *OrdersService) AppendNote(ctx context.Context, orderID uuid.UUID, actor domain.Actor, text, dedupKey string) (bool, error) {
	return s.repo.AppendNote(ctx, orderID, actor, text, dedupKey)
}

// ConfirmReturn handles the buyer's browser coming back from the gateway.
// The IPN is the authoritative confirmation; by default this only reads the
// order and reports success whatever the status, so the buyer is never shown
// an error while the webhook is still in flight. In sandbox setups where the
// IPN cannot reach this host it may additionally nudge pending->processing;
// losing that race to the reconciler is fine either way.
func (s *OrdersService) ConfirmReturn(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrderById(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.returnApplies && order.Status == domain.StatusPending {
		updated, _, err := s.Transition(ctx, repository.TransitionRequest{
			OrderID:        orderID,
			To:             domain.StatusProcessing,
			Actor:          domain.ActorClientConfirmation,
			Note:           "payment return confirmed by buyer redirect",
			IdempotencyKey: TransitionKey(orderID, "client_confirmation", ""),
		})
		if err != nil {
			if errors.Is(err, domain.ErrIllegalTransition) {
				// The reconciler (or an operator) got there first. Not a
				// failure from the buyer's point of view.
				logger.Info("client confirmation lost the race", "order_id", orderID, "err", err)
				return s.repo.GetOrderById(ctx, orderID)
			}
			return nil, err
		}
		return updated, nil
	}

	return order, nil
}

func (s *OrdersService) publish(ctx context.Context, ev domain.OrderEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderEvent(ctx, ev); err != nil {
		logger.Warn("publish order event failed", "type", ev.Type, "order_id", ev.OrderID, "err", err)
	}
}

// TransitionKey derives a deterministic idempotency key for one logical
// operation on one order.
func TransitionKey(orderID uuid.UUID, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(orderID.String()))
	for _, p := range parts {
		h.Write([]byte("|"))
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
