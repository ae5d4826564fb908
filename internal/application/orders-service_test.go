package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhasan-dev/bazar-orders-service/internal/application"
	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
	"github.com/nhasan-dev/bazar-orders-service/internal/repository"
)

func validAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		District: "Dhaka",
		Thana:    "Dhanmondi",
		Area:     "House 7, Road 2",
		Phone:    "01711111111",
	}
}

func checkoutInput(cart *domain.Cart) application.CheckoutInput {
	return application.CheckoutInput{
		UserID:        "user-1",
		Cart:          cart,
		Address:       validAddress(),
		PaymentMethod: domain.PaymentBkash,
	}
}

func placeOrder(t *testing.T, svc *application.OrdersService, items ...domain.CartItem) *domain.Order {
	t.Helper()
	order, err := svc.Checkout(context.Background(), checkoutInput(&domain.Cart{Items: items}))
	require.NoError(t, err)
	return order
}

func TestCheckout_ShippingFee(t *testing.T) {
	tests := []struct {
		name      string
		items     []domain.CartItem
		wantFee   int64
		wantTotal int64
	}{
		{
			name:      "flat_fee_below_threshold",
			items:     []domain.CartItem{{ProductID: "p1", ProductName: "Soap", UnitPrice: 450, Quantity: 1}},
			wantFee:   60,
			wantTotal: 510,
		},
		{
			name:      "fee_waived_above_threshold",
			items:     []domain.CartItem{{ProductID: "p1", ProductName: "Rice", UnitPrice: 300, Quantity: 2}},
			wantFee:   0,
			wantTotal: 600,
		},
		{
			name:      "threshold_is_strict",
			items:     []domain.CartItem{{ProductID: "p1", ProductName: "Oil", UnitPrice: 500, Quantity: 1}},
			wantFee:   60,
			wantTotal: 560,
		},
		{
			name: "multiple_lines",
			items: []domain.CartItem{
				{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 2},
				{ProductID: "p2", ProductName: "Tea", UnitPrice: 50, Quantity: 3},
			},
			wantFee:   60,
			wantTotal: 410,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
			order := placeOrder(t, svc, tt.items...)

			assert.Equal(t, tt.wantFee, order.ShippingFee)
			assert.Equal(t, tt.wantTotal, order.TotalPrice)
			assert.Equal(t, domain.StatusPending, order.Status)
			assert.Equal(t, order.Subtotal()+order.ShippingFee, order.TotalPrice)
		})
	}
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *application.CheckoutInput)
		wantErr error
	}{
		{
			name:    "empty_cart",
			mutate:  func(in *application.CheckoutInput) { in.Cart.Items = nil },
			wantErr: domain.ErrEmptyCart,
		},
		{
			name:    "nil_cart",
			mutate:  func(in *application.CheckoutInput) { in.Cart = nil },
			wantErr: domain.ErrEmptyCart,
		},
		{
			name:    "missing_district",
			mutate:  func(in *application.CheckoutInput) { in.Address.District = "" },
			wantErr: domain.ErrMissingAddressField,
		},
		{
			name:    "missing_phone",
			mutate:  func(in *application.CheckoutInput) { in.Address.Phone = "" },
			wantErr: domain.ErrMissingAddressField,
		},
		{
			name:    "bad_payment_method",
			mutate:  func(in *application.CheckoutInput) { in.PaymentMethod = "paypal" },
			wantErr: domain.ErrInvalidPaymentMethod,
		},
		{
			name:    "zero_quantity",
			mutate:  func(in *application.CheckoutInput) { in.Cart.Items[0].Quantity = 0 },
			wantErr: domain.ErrInvalidCartItem,
		},
		{
			name:    "negative_price",
			mutate:  func(in *application.CheckoutInput) { in.Cart.Items[0].UnitPrice = -5 },
			wantErr: domain.ErrInvalidCartItem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
			in := checkoutInput(&domain.Cart{Items: []domain.CartItem{
				{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1},
			}})
			tt.mutate(&in)

			_, err := svc.Checkout(context.Background(), in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

type failingCreateRepo struct {
	*repository.MemoryOrderRepository
}

func (r *failingCreateRepo) CreateOrder(ctx context.Context, o *domain.Order) error {
	return errors.New("connection reset")
}

func TestCheckout_CartClearedOnlyAfterCommit(t *testing.T) {
	cart := &domain.Cart{Items: []domain.CartItem{
		{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1},
	}}

	failing := &failingCreateRepo{repository.NewMemoryOrderRepository()}
	svc := application.NewOrdersService(failing, nil, false)
	_, err := svc.Checkout(context.Background(), checkoutInput(cart))
	require.Error(t, err)
	assert.Len(t, cart.Items, 1, "cart must survive a failed write")

	svc = application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	_, err = svc.Checkout(context.Background(), checkoutInput(cart))
	require.NoError(t, err)
	assert.Empty(t, cart.Items, "cart is cleared after a durable commit")
}

func TestCheckout_FreezesLineItems(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	order := placeOrder(t, svc,
		domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 120, Quantity: 2},
	)

	got, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Soap", got.Items[0].ProductName)
	assert.Equal(t, int64(120), got.Items[0].UnitPrice)
	assert.Equal(t, order.ID, got.Items[0].OrderID)
}

func TestTransition_IdempotencyKey(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	key := application.TransitionKey(order.ID, "valid", "val-1")
	req := repository.TransitionRequest{
		OrderID:        order.ID,
		To:             domain.StatusProcessing,
		Actor:          domain.ActorPaymentReconciler,
		IdempotencyKey: key,
	}

	first, applied, err := svc.Transition(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StatusProcessing, first.Status)

	second, applied, err := svc.Transition(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, applied, "replay must not re-apply")
	assert.Equal(t, domain.StatusProcessing, second.Status)
	assert.Len(t, second.Notes, 1, "replay must not duplicate the audit note")
}

func TestTransition_IllegalEdges(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	_, _, err := svc.Transition(context.Background(), repository.TransitionRequest{
		OrderID: order.ID, To: domain.StatusDelivered, Actor: domain.ActorHumanOperator,
	})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, _, err = svc.Transition(context.Background(), repository.TransitionRequest{
		OrderID: order.ID, To: domain.Status("refunded"), Actor: domain.ActorHumanOperator,
	})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	got, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status, "failed transitions leave status untouched")
}

func TestTransition_TerminalOrdersNeverMove(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	_, _, err := svc.Transition(context.Background(), repository.TransitionRequest{
		OrderID: order.ID, To: domain.StatusCancelled, Actor: domain.ActorHumanOperator, Note: "customer called",
	})
	require.NoError(t, err)

	for _, actor := range []domain.Actor{domain.ActorHumanOperator, domain.ActorPaymentReconciler, domain.ActorClientConfirmation} {
		for _, to := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered} {
			_, _, err := svc.Transition(context.Background(), repository.TransitionRequest{
				OrderID: order.ID, To: to, Actor: actor,
			})
			assert.ErrorIs(t, err, domain.ErrIllegalTransition, "actor %s must not move cancelled order to %s", actor, to)
		}
	}
}

func TestTransition_ConcurrentRaceHasOneWinner(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	// Two independent confirmations race for the same pending->processing
	// edge, e.g. a webhook retry overlapping the first delivery with a
	// different val_id.
	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.Transition(context.Background(), repository.TransitionRequest{
				OrderID: order.ID, To: domain.StatusProcessing, Actor: domain.ActorPaymentReconciler,
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrIllegalTransition)
		}
	}
	assert.Equal(t, 1, wins, "exactly one caller takes the edge out of pending")

	got, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func TestTransition_SetsTrackingNumber(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	_, _, err := svc.Transition(context.Background(), repository.TransitionRequest{
		OrderID: order.ID, To: domain.StatusProcessing, Actor: domain.ActorHumanOperator,
	})
	require.NoError(t, err)

	shipped, _, err := svc.Transition(context.Background(), repository.TransitionRequest{
		OrderID:        order.ID,
		To:             domain.StatusShipped,
		Actor:          domain.ActorHumanOperator,
		TrackingNumber: "SA-998877",
	})
	require.NoError(t, err)
	assert.Equal(t, "SA-998877", shipped.TrackingNumber)
}

func TestConfirmReturn_CosmeticByDefault(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	got, err := svc.ConfirmReturn(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status, "redirect-back must not move the order; the IPN is authoritative")
}

func TestConfirmReturn_AppliesModeNudgesPending(t *testing.T) {
	repo := repository.NewMemoryOrderRepository()
	svc := application.NewOrdersService(repo, nil, true)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	got, err := svc.ConfirmReturn(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	// Second visit of the success page is a no-op.
	again, err := svc.ConfirmReturn(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, again.Status)
	assert.Len(t, again.Notes, 1)
}

func TestConfirmReturn_NeverRegressesOrCancels(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, true)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	_, _, err := svc.Transition(context.Background(), repository.TransitionRequest{
		OrderID: order.ID, To: domain.StatusCancelled, Actor: domain.ActorHumanOperator,
	})
	require.NoError(t, err)

	got, err := svc.ConfirmReturn(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}

func TestConfirmReturn_UnknownOrder(t *testing.T) {
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), nil, false)
	_, err := svc.ConfirmReturn(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *capturingPublisher) PublishOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func TestEventsPublishedOncePerApply(t *testing.T) {
	pub := &capturingPublisher{}
	svc := application.NewOrdersService(repository.NewMemoryOrderRepository(), pub, false)
	order := placeOrder(t, svc, domain.CartItem{ProductID: "p1", ProductName: "Soap", UnitPrice: 100, Quantity: 1})

	req := repository.TransitionRequest{
		OrderID:        order.ID,
		To:             domain.StatusProcessing,
		Actor:          domain.ActorPaymentReconciler,
		IdempotencyKey: application.TransitionKey(order.ID, "valid", "v1"),
	}
	_, _, err := svc.Transition(context.Background(), req)
	require.NoError(t, err)
	_, _, err = svc.Transition(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.EventOrderCreated, pub.events[0].Type)
	assert.Equal(t, domain.EventOrderStatusChanged, pub.events[1].Type)
}

func TestTransitionKeyDeterministic(t *testing.T) {
	id := uuid.New()
	assert.Equal(t,
		application.TransitionKey(id, "valid", "v1"),
		application.TransitionKey(id, "valid", "v1"),
	)
	assert.NotEqual(t,
		application.TransitionKey(id, "valid", "v1"),
		application.TransitionKey(id, "valid", "v2"),
	)
	assert.NotEqual(t,
		application.TransitionKey(id, "valid", "v1"),
		application.TransitionKey(uuid.New(), "valid", "v1"),
	)
}
