package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrMissingAddressField  = errors.New("required address field is missing")
	ErrInvalidCartItem      = errors.New("invalid cart item")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrOrderNotFound        = errors.New("order not found")
	ErrIllegalTransition    = errors.New("illegal status transition")
)

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentBkash          PaymentMethod = "bkash"
	PaymentNagad          PaymentMethod = "nagad"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentBkash, PaymentNagad:
		return true
	}
	return false
}

// Online reports whether the method settles through the payment gateway.
func (m PaymentMethod) Online() bool {
	return m == PaymentBkash || m == PaymentNagad
}

type ShippingAddress struct {
	District string `json:"district"`
	Thana    string `json:"thana"`
	Area     string `json:"area"`
	Phone    string `json:"phone"`
}

func (a ShippingAddress) Validate() error {
	if a.District == "" || a.Thana == "" || a.Area == "" || a.Phone == "" {
		return ErrMissingAddressField
	}
	return nil
}

// LineItem is a frozen copy of the product at the moment the order was
// placed. Catalog price changes never reach back into it.
type LineItem struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   int64     `json:"unit_price"`
	Quantity    int       `json:"quantity"`
}

// Note is one append-only audit entry on an order.
type Note struct {
	Actor     Actor     `json:"actor"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []LineItem      `json:"items"`
	TotalPrice      int64           `json:"total_price"`
	ShippingFee     int64           `json:"shipping_fee"`
	Address         ShippingAddress `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Status          Status          `json:"status"`
	CustomerNote    string          `json:"customer_note,omitempty"`
	Notes           []Note          `json:"notes,omitempty"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
}

// Subtotal is the item sum without the shipping fee. TotalPrice is fixed at
// creation; this exists for display and for the fee rule at checkout.
func (o *Order) Subtotal() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

type CartItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

// Cart is request-scoped checkout input. It is cleared by the checkout flow
// only after the order is durably committed.
type Cart struct {
	Items []CartItem `json:"items"`
}

func (c *Cart) Subtotal() int64 {
	var sum int64
	for _, it := range c.Items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

func (c *Cart) Clear() {
	c.Items = nil
}
