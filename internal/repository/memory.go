package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
)

// MemoryOrderRepository keeps everything in process memory behind one mutex.
// It mirrors the Postgres repository's semantics (atomic create, per-order
// CAS, idempotency ledger, note dedup) so the service and reconciler can be
// exercised without a database.
type MemoryOrderRepository struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*domain.Order
	ledger   map[string]uuid.UUID
	noteKeys map[string]struct{}
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:   make(map[uuid.UUID]*domain.Order),
		ledger:   make(map[string]uuid.UUID),
		noteKeys: make(map[string]struct{}),
	}
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.LineItem(nil), o.Items...)
	cp.Notes = append([]domain.Note(nil), o.Notes...)
	return &cp
}

func (r *MemoryOrderRepository) CreateOrder(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	for i := range o.Items {
		o.Items[i].ID = uuid.New()
		o.Items[i].OrderID = o.ID
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *MemoryOrderRepository) GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryOrderRepository) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryOrderRepository) Transition(ctx context.Context, req TransitionRequest) (*domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, seen := r.ledger[req.IdempotencyKey]; seen {
			if o, ok := r.orders[id]; ok {
				return cloneOrder(o), false, nil
			}
			return nil, false, domain.ErrOrderNotFound
		}
	}

	o, ok := r.orders[req.OrderID]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	if !domain.CanTransition(o.Status, req.To) {
		return nil, false, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, o.Status, req.To)
	}

	now := time.Now().UTC()
	from := o.Status
	o.Status = req.To
	o.StatusChangedAt = now
	if req.TrackingNumber != "" {
		o.TrackingNumber = req.TrackingNumber
	}

	note := req.Note
	if note == "" {
		note = fmt.Sprintf("status changed %s -> %s", from, req.To)
	}
	o.Notes = append(o.Notes, domain.Note{Actor: req.Actor, Text: note, CreatedAt: now})

	if req.IdempotencyKey != "" {
		r.ledger[req.IdempotencyKey] = req.OrderID
	}
	return cloneOrder(o), true, nil
}

func (r *MemoryOrderRepository) AppendNote(ctx context.Context, orderID uuid.UUID, actor domain.Actor, text, dedupKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if dedupKey != "" {
		if _, seen := r.noteKeys[dedupKey]; seen {
			return false, nil
		}
		r.noteKeys[dedupKey] = struct{}{}
	}
	o.Notes = append(o.Notes, domain.Note{Actor: actor, Text: text, CreatedAt: time.Now().UTC()})
	return true, nil
}
