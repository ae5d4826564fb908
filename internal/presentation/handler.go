package presentation

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nhasan-dev/bazar-orders-service/internal/application"
	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
	"github.com/nhasan-dev/bazar-orders-service/internal/presentation/helpers"
	"github.com/nhasan-dev/bazar-orders-service/internal/repository"
)

type OrdersHandler struct {
	svc        *application.OrdersService
	reconciler *application.Reconciler
}

func NewOrdersHandler(svc *application.OrdersService, reconciler *application.Reconciler) *OrdersHandler {
	return &OrdersHandler{svc: svc, reconciler: reconciler}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/checkout", h.Checkout)
	r.Post("/payments/ipn", h.PaymentIPN)
	r.Get("/payments/ipn", h.PaymentIPN)
	r.Get("/payments/success", h.PaymentSuccess)
	r.Post("/orders/{id}/status", h.UpdateStatus)
	r.Get("/orders/{id}", h.GetOrder)
	r.Get("/orders/{id}/tracking", h.GetTracking)
	r.Get("/users/{userID}/orders", h.ListUserOrders)
}

type checkoutRequest struct {
	UserID        string                 `json:"user_id"`
	Items         []domain.CartItem      `json:"items"`
	Address       domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod domain.PaymentMethod   `json:"payment_method"`
	Note          string                 `json:"note"`
}

func (h *OrdersHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		helpers.HttpError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	cart := &domain.Cart{Items: req.Items}
	order, err := h.svc.Checkout(r.Context(), application.CheckoutInput{
		UserID:        req.UserID,
		Cart:          cart,
		Address:       req.Address,
		PaymentMethod: req.PaymentMethod,
		CustomerNote:  req.Note,
	})
	if err != nil {
		if isValidationErr(err) {
			helpers.HttpError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Warn("checkout failed", "err", err)
		helpers.HttpError(w, http.StatusInternalServerError, "failed to place order")
		return
	}

	helpers.WriteJSON(w, http.StatusCreated, order)
}

func isValidationErr(err error) bool {
	return errors.Is(err, domain.ErrEmptyCart) ||
		errors.Is(err, domain.ErrMissingAddressField) ||
		errors.Is(err, domain.ErrInvalidCartItem) ||
		errors.Is(err, domain.ErrInvalidPaymentMethod)
}

// PaymentIPN is the gateway's server-to-server callback. The gateway may
// deliver it as a form POST, a JSON POST or a plain GET with query params,
// and it retries on any non-200, so every handled outcome answers 200 here.
func (h *OrdersHandler) PaymentIPN(w http.ResponseWriter, r *http.Request) {
	fields, err := h.ipnFields(r)
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	n, err := domain.ParseNotification(fields)
	if err != nil {
		if errors.Is(err, domain.ErrMissingTransactionID) {
			helpers.HttpError(w, http.StatusBadRequest, "no transaction ID")
			return
		}
		helpers.HttpError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.reconciler.HandleNotification(r.Context(), n)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			helpers.HttpError(w, http.StatusNotFound, "order not found")
			return
		}
		logger.Error("ipn processing failed", "tran_id", n.TranID, "err", err)
		helpers.HttpError(w, http.StatusInternalServerError, "ipn processing failed")
		return
	}

	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "IPN Received",
		"result":  result,
	})
}

func (h *OrdersHandler) ipnFields(r *http.Request) (map[string]string, error) {
	fields := make(map[string]string)

	if r.Method == http.MethodGet {
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		return fields, nil
	}

	mediatype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediatype {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
	default:
		// The sandbox posts JSON when configured for it; anything else is
		// decoded the same way and fails closed on missing fields.
		if err := helpers.DecodeJSON(r.Body, &fields); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// PaymentSuccess is the buyer's redirect-back landing call. It must never
// error just because the IPN has not arrived yet.
func (h *OrdersHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.URL.Query().Get("order_id"))
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "order_id is missing or not a uuid")
		return
	}

	order, err := h.svc.ConfirmReturn(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			helpers.HttpError(w, http.StatusNotFound, "order not found")
			return
		}
		logger.Warn("payment success confirmation failed", "order_id", orderID, "err", err)
		helpers.HttpError(w, http.StatusInternalServerError, "failed to confirm payment return")
		return
	}

	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"order_id": order.ID,
		"order":    order,
	})
}

type updateStatusRequest struct {
	Status         domain.Status `json:"status"`
	Note           string        `json:"note"`
	TrackingNumber string        `json:"tracking_number"`
}

// UpdateStatus is the operator console path. Same legality rules as every
// other actor.
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "order id is not a uuid")
		return
	}

	var req updateStatusRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !req.Status.Valid() {
		helpers.HttpError(w, http.StatusBadRequest, "unknown status")
		return
	}

	order, _, err := h.svc.Transition(r.Context(), repository.TransitionRequest{
		OrderID:        orderID,
		To:             req.Status,
		Actor:          domain.ActorHumanOperator,
		Note:           req.Note,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			helpers.HttpError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrIllegalTransition):
			helpers.HttpError(w, http.StatusConflict, err.Error())
		default:
			logger.Warn("status update failed", "order_id", orderID, "err", err)
			helpers.HttpError(w, http.StatusInternalServerError, "failed to update status")
		}
		return
	}

	helpers.WriteJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "order id is not a uuid")
		return
	}

	order, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			helpers.HttpError(w, http.StatusNotFound, "order not found")
			return
		}
		helpers.HttpError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, order)
}

func (h *OrdersHandler) GetTracking(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "order id is not a uuid")
		return
	}

	order, err := h.svc.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			helpers.HttpError(w, http.StatusNotFound, "order not found")
			return
		}
		helpers.HttpError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, application.Timeline(order))
}

func (h *OrdersHandler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if strings.TrimSpace(userID) == "" {
		helpers.HttpError(w, http.StatusBadRequest, "user id is empty")
		return
	}

	orders, err := h.svc.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		helpers.HttpError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, orders)
}
