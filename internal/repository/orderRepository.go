package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
)

// TransitionRequest carries one requested status change through the state
// machine gate. IdempotencyKey, when set, makes replays of the same request
// a no-op after the first successful application.
type TransitionRequest struct {
	OrderID        uuid.UUID
	To             domain.Status
	Actor          domain.Actor
	Note           string
	IdempotencyKey string
	TrackingNumber string
}

type OrderRepo interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// Transition reports applied=false when the idempotency key was already
	// used; the returned order is then the current row, untouched.
	Transition(ctx context.Context, req TransitionRequest) (order *domain.Order, applied bool, err error)
	AppendNote(ctx context.Context, orderID uuid.UUID, actor domain.Actor, text, dedupKey string) (bool, error)
}

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateOrder persists the order and its line items in one transaction.
// Either everything lands or nothing is visible.
func (r *OrderRepository) CreateOrder(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO shop.orders
			(id, user_id, total_price, shipping_fee, status,
			 district, thana, area, phone,
			 payment_method, customer_note, tracking_number, created_at, status_changed_at)
		VALUES
			($1, $2, $3, $4, $5,
			 $6, $7, $8, $9,
			 $10, $11, $12, $13, $14)
	`,
		o.ID,
		o.UserID,
		o.TotalPrice,
		o.ShippingFee,
		o.Status.String(),
		o.Address.District,
		o.Address.Thana,
		o.Address.Area,
		o.Address.Phone,
		string(o.PaymentMethod),
		o.CustomerNote,
		o.TrackingNumber,
		o.CreatedAt,
		o.StatusChangedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: insert order: %w", err)
	}

	if len(o.Items) > 0 {
		batch := &pgx.Batch{}
		for i := range o.Items {
			it := &o.Items[i]
			it.ID = uuid.New()
			it.OrderID = o.ID
			batch.Queue(`
				INSERT INTO shop.order_items
					(id, order_id, product_id, product_name, unit_price, quantity)
				VALUES
					($1, $2, $3, $4, $5, $6)
			`, it.ID, it.OrderID, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity)
		}
		br := tx.SendBatch(ctx, batch)
		if err = br.Close(); err != nil {
			return fmt.Errorf("repository: insert order items: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: commit order: %w", err)
	}
	tx = nil
	return nil
}

func (r *OrderRepository) GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, total_price, shipping_fee, status,
		       district, thana, area, phone,
		       payment_method, customer_note, tracking_number, created_at, status_changed_at
		FROM shop.orders
		WHERE id = $1
	`, id).Scan(
		&o.ID, &o.UserID, &o.TotalPrice, &o.ShippingFee, &o.Status,
		&o.Address.District, &o.Address.Thana, &o.Address.Area, &o.Address.Phone,
		&o.PaymentMethod, &o.CustomerNote, &o.TrackingNumber, &o.CreatedAt, &o.StatusChangedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: select order %s: %w", id, err)
	}

	o.Items, err = r.itemsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Notes, err = r.notesFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) itemsFor(ctx context.Context, orderID uuid.UUID) ([]domain.LineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, unit_price, quantity
		FROM shop.order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: query items %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, fmt.Errorf("repository: scan item %s: %w", orderID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *OrderRepository) notesFor(ctx context.Context, orderID uuid.UUID) ([]domain.Note, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT actor, note, created_at
		FROM shop.order_notes
		WHERE order_id = $1
		ORDER BY created_at, seq
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: query notes %s: %w", orderID, err)
	}
	defer rows.Close()

	notes := make([]domain.Note, 0)
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.Actor, &n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan note %s: %w", orderID, err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (r *OrderRepository) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, total_price, shipping_fee, status,
		       district, thana, area, phone,
		       payment_method, customer_note, tracking_number, created_at, status_changed_at
		FROM shop.orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: query orders for user %s: %w", userID, err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.UserID, &o.TotalPrice, &o.ShippingFee, &o.Status,
			&o.Address.District, &o.Address.Thana, &o.Address.Area, &o.Address.Phone,
			&o.PaymentMethod, &o.CustomerNote, &o.TrackingNumber, &o.CreatedAt, &o.StatusChangedAt,
		); err != nil {
			return nil, fmt.Errorf("repository: scan order for user %s: %w", userID, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := r.itemsFor(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// Transition applies one edge of the state machine under a per-order
// compare-and-set. The idempotency ledger, the status CAS, the audit note and
// the tracking-number update all commit in one transaction; concurrent calls
// for the same order cannot both win the same starting status.
func (r *OrderRepository) Transition(ctx context.Context, req TransitionRequest) (*domain.Order, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("repository: begin tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if req.IdempotencyKey != "" {
		var seen bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM shop.order_transitions WHERE idempotency_key = $1)`,
			req.IdempotencyKey,
		).Scan(&seen)
		if err != nil {
			return nil, false, fmt.Errorf("repository: idempotency lookup: %w", err)
		}
		if seen {
			_ = tx.Rollback(ctx)
			tx = nil
			logger.Info("transition replay, skipping", "order_id", req.OrderID, "key", req.IdempotencyKey)
			existing, err := r.GetOrderById(ctx, req.OrderID)
			return existing, false, err
		}
	}

	var cur domain.Status
	err = tx.QueryRow(ctx, `SELECT status FROM shop.orders WHERE id = $1`, req.OrderID).Scan(&cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrOrderNotFound
		}
		return nil, false, fmt.Errorf("repository: select status %s: %w", req.OrderID, err)
	}

	if !domain.CanTransition(cur, req.To) {
		return nil, false, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, cur, req.To)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE shop.orders
		SET status = $2,
		    status_changed_at = $3,
		    tracking_number = COALESCE(NULLIF($4, ''), tracking_number)
		WHERE id = $1 AND status = $5
	`, req.OrderID, req.To.String(), now, req.TrackingNumber, cur.String())
	if err != nil {
		return nil, false, fmt.Errorf("repository: update status %s: %w", req.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race: the status moved after we read it. Re-read so the
		// error names what is actually there now.
		var moved domain.Status
		if re := r.pool.QueryRow(ctx, `SELECT status FROM shop.orders WHERE id = $1`, req.OrderID).Scan(&moved); re == nil {
			cur = moved
		}
		return nil, false, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, cur, req.To)
	}

	if req.IdempotencyKey != "" {
		_, err = tx.Exec(ctx,
			`INSERT INTO shop.order_transitions (idempotency_key, order_id, status, actor, applied_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			req.IdempotencyKey, req.OrderID, req.To.String(), string(req.Actor), now,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				// Another handler applied the same key between our lookup and
				// here. Drop our attempt and report theirs.
				_ = tx.Rollback(ctx)
				tx = nil
				logger.Info("transition applied concurrently, skipping", "order_id", req.OrderID, "key", req.IdempotencyKey)
				existing, err := r.GetOrderById(ctx, req.OrderID)
				return existing, false, err
			}
			return nil, false, fmt.Errorf("repository: insert transition ledger: %w", err)
		}
	}

	note := req.Note
	if note == "" {
		note = fmt.Sprintf("status changed %s -> %s", cur, req.To)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO shop.order_notes (order_id, actor, note, created_at) VALUES ($1, $2, $3, $4)`,
		req.OrderID, string(req.Actor), note, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("repository: insert note: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("repository: commit transition: %w", err)
	}
	tx = nil
	updated, err := r.GetOrderById(ctx, req.OrderID)
	return updated, err == nil, err
}

// AppendNote adds an audit entry without touching status. A non-empty
// dedupKey makes the append idempotent: replays insert nothing and return
// false.
func (r *OrderRepository) AppendNote(ctx context.Context, orderID uuid.UUID, actor domain.Actor, text, dedupKey string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO shop.order_notes (order_id, actor, note, created_at, dedup_key)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (dedup_key) DO NOTHING
	`, orderID, string(actor), text, time.Now().UTC(), dedupKey)
	if err != nil {
		return false, fmt.Errorf("repository: append note %s: %w", orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}
