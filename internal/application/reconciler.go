package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
	"github.com/nhasan-dev/bazar-orders-service/internal/gateway"
	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
	"github.com/nhasan-dev/bazar-orders-service/internal/repository"
)

// ReconcileResult is what the webhook handler reports back to the gateway.
// Everything except an unknown order maps to HTTP 200 upstream; the gateway
// retries on anything else and we do not want retry storms for outcomes we
// already handled.
type ReconcileResult struct {
	OrderID uuid.UUID      `json:"order_id"`
	Outcome domain.Outcome `json:"outcome"`
	Applied bool           `json:"applied"`
	Status  domain.Status  `json:"status"`
	Reason  string         `json:"reason,omitempty"`
}

// Reconciler consumes payment notifications and drives the order state
// machine. It is the authoritative confirmation path: a "valid" outcome is
// only trusted after the gateway's own validator vouches for it.
type Reconciler struct {
	svc      *OrdersService
	verifier gateway.Verifier
}

func NewReconciler(svc *OrdersService, verifier gateway.Verifier) *Reconciler {
	return &Reconciler{svc: svc, verifier: verifier}
}

func (r *Reconciler) HandleNotification(ctx context.Context, n *domain.PaymentNotification) (*ReconcileResult, error) {
	orderID, err := uuid.Parse(n.TranID)
	if err != nil {
		// A transaction id we never issued. Never create an order from a
		// notification.
		return nil, domain.ErrOrderNotFound
	}

	order, err := r.svc.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch n.Outcome {
	case domain.OutcomeValid:
		return r.handleValid(ctx, order, n)
	case domain.OutcomeFailed, domain.OutcomeCancelled:
		return r.handleNonPayment(ctx, order, n)
	default:
		return nil, domain.ErrUnknownOutcome
	}
}

func (r *Reconciler) handleValid(ctx context.Context, order *domain.Order, n *domain.PaymentNotification) (*ReconcileResult, error) {
	res := &ReconcileResult{OrderID: order.ID, Outcome: n.Outcome, Status: order.Status}

	if n.ValID == "" {
		return r.verificationFailed(ctx, order, n, "notification carries no val_id")
	}

	v, err := r.verifier.Verify(ctx, n.ValID)
	if err != nil {
		// Timeout or transport failure is not a confirmation. Fail closed.
		logger.Warn("gateway verification unavailable", "order_id", order.ID, "err", err)
		return r.verificationFailed(ctx, order, n, "validator unreachable")
	}
	if !v.Validated() {
		logger.Warn("gateway rejected payment", "order_id", order.ID, "validator_status", v.Status)
		return r.verificationFailed(ctx, order, n, fmt.Sprintf("validator reported %s", v.Status))
	}
	if !amountMatches(v.Amount, order.TotalPrice) {
		logger.Warn("gateway amount mismatch", "order_id", order.ID, "validator_amount", v.Amount, "order_total", order.TotalPrice)
		return r.verificationFailed(ctx, order, n, fmt.Sprintf("amount mismatch: validator says %s, order total %d", v.Amount, order.TotalPrice))
	}

	bank := n.BankTranID
	if bank == "" {
		bank = v.BankTranID
	}
	if bank == "" {
		bank = "N/A"
	}

	updated, applied, err := r.svc.Transition(ctx, repository.TransitionRequest{
		OrderID:        order.ID,
		To:             domain.StatusProcessing,
		Actor:          domain.ActorPaymentReconciler,
		Note:           fmt.Sprintf("Online payment successful. Bank Tran ID: %s, Val ID: %s", bank, n.ValID),
		IdempotencyKey: TransitionKey(order.ID, string(domain.OutcomeValid), n.ValID),
	})
	if err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			// An operator or a race already moved the order. A human may have
			// cancelled it; either way the notification is logged, not forced.
			logger.Info("verified payment for order no longer pending", "order_id", order.ID, "status", order.Status)
			if _, nerr := r.svc.AppendNote(ctx, order.ID, domain.ActorPaymentReconciler,
				fmt.Sprintf("verified payment received but order is %s. Val ID: %s", order.Status, n.ValID),
				TransitionKey(order.ID, "valid_stale", n.ValID),
			); nerr != nil {
				return nil, nerr
			}
			res.Reason = "order no longer pending"
			return res, nil
		}
		return nil, err
	}

	res.Applied = applied
	res.Status = updated.Status
	if !applied {
		res.Reason = "already applied"
		logger.Info("duplicate notification, transition already applied", "order_id", order.ID)
		return res, nil
	}
	logger.Info("payment reconciled", "order_id", order.ID, "status", updated.Status)
	return res, nil
}

func (r *Reconciler) verificationFailed(ctx context.Context, order *domain.Order, n *domain.PaymentNotification, why string) (*ReconcileResult, error) {
	if _, err := r.svc.AppendNote(ctx, order.ID, domain.ActorPaymentReconciler,
		fmt.Sprintf("payment verification failed: %s. Val ID: %s", why, n.ValID),
		TransitionKey(order.ID, "verification_failed", n.ValID),
	); err != nil {
		return nil, err
	}
	return &ReconcileResult{
		OrderID: order.ID,
		Outcome: n.Outcome,
		Status:  order.Status,
		Reason:  "verification failed",
	}, nil
}

// handleNonPayment records failed and cancelled gateway outcomes without
// touching status: the buyer may retry the payment or switch to cash on
// delivery, so a failed charge never auto-cancels the order.
func (r *Reconciler) handleNonPayment(ctx context.Context, order *domain.Order, n *domain.PaymentNotification) (*ReconcileResult, error) {
	reason := n.Reason
	if reason == "" {
		reason = "N/A"
	}
	inserted, err := r.svc.AppendNote(ctx, order.ID, domain.ActorPaymentReconciler,
		fmt.Sprintf("Payment %s. Reason: %s", n.Outcome, reason),
		TransitionKey(order.ID, string(n.Outcome), n.ValID),
	)
	if err != nil {
		return nil, err
	}
	if !inserted {
		logger.Info("duplicate notification, note already recorded", "order_id", order.ID, "outcome", n.Outcome)
	}
	return &ReconcileResult{
		OrderID: order.ID,
		Outcome: n.Outcome,
		Status:  order.Status,
		Reason:  reason,
	}, nil
}

// amountMatches compares the validator's reported amount with the order
// total. The validator sends a decimal string; an absent amount is accepted,
// a present one must equal the total to the poisha.
func amountMatches(reported string, total int64) bool {
	if reported == "" {
		return true
	}
	f, err := strconv.ParseFloat(reported, 64)
	if err != nil {
		return false
	}
	return int64(f*100+0.5) == total*100
}
