package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
)

type Milestone struct {
	Key         domain.Status `json:"key"`
	Label       string        `json:"label"`
	Description string        `json:"description"`
	Reached     bool          `json:"reached"`
	Current     bool          `json:"current"`
	At          *time.Time    `json:"at,omitempty"`
}

type Tracking struct {
	OrderID        uuid.UUID   `json:"order_id"`
	Cancelled      bool        `json:"cancelled"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	Milestones     []Milestone `json:"milestones"`
}

var milestoneSteps = []struct {
	key         domain.Status
	label       string
	description string
}{
	{domain.StatusPending, "Order Placed", "Your order has been received"},
	{domain.StatusProcessing, "Processing", "Preparing your order"},
	{domain.StatusShipped, "Shipped", "On the way to you"},
	{domain.StatusDelivered, "Delivered", "Order completed"},
}

// Timeline projects the current status and timestamps onto the display
// timeline. Pure function over the order; recomputed on every read.
func Timeline(o *domain.Order) Tracking {
	t := Tracking{
		OrderID:        o.ID,
		TrackingNumber: o.TrackingNumber,
		Milestones:     make([]Milestone, 0, len(milestoneSteps)),
	}

	if o.Status == domain.StatusCancelled {
		t.Cancelled = true
		at := o.StatusChangedAt
		t.CancelledAt = &at
	}

	current := -1
	if !t.Cancelled {
		for i, step := range milestoneSteps {
			if step.key == o.Status {
				current = i
				break
			}
		}
	}

	for i, step := range milestoneSteps {
		m := Milestone{
			Key:         step.key,
			Label:       step.label,
			Description: step.description,
			Reached:     current >= 0 && i <= current,
			Current:     i == current,
		}
		if i == 0 {
			// The placed step is always in the past, even for a cancelled
			// order.
			m.Reached = true
			at := o.CreatedAt
			m.At = &at
		}
		if m.Current && i > 0 {
			at := o.StatusChangedAt
			m.At = &at
		}
		t.Milestones = append(t.Milestones, m)
	}
	return t
}
