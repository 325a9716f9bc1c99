package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/feastly/dispatch/internal/dispatch"
	"github.com/feastly/dispatch/internal/domain"
	"github.com/feastly/dispatch/internal/notify"
	"github.com/feastly/dispatch/internal/payments"
)

// PaymentFetcher looks up a payment on the provider by reference.
type PaymentFetcher interface {
	Fetch(ctx context.Context, paymentRef string) (payments.Payment, error)
}

// EventPublisher publishes domain events to the message broker.
// Satisfied by *notify.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, key, event string, payload any) error
}

// Handler serves the customer and shop-owner order surface.
type Handler struct {
	repo       *OrderRepository
	otp        *OTPService
	dispatcher dispatch.Dispatcher
	payments   PaymentFetcher
	notifier   notify.Notifier
	placed     EventPublisher
	logger     *slog.Logger
}

func NewHandler(repo *OrderRepository, otp *OTPService, dispatcher dispatch.Dispatcher, payments PaymentFetcher, notifier notify.Notifier, placed EventPublisher, logger *slog.Logger) *Handler {
	return &Handler{
		repo:       repo,
		otp:        otp,
		dispatcher: dispatcher,
		payments:   payments,
		notifier:   notifier,
		placed:     placed,
		logger:     logger,
	}
}

type createOrderRequest struct {
	CustomerID      string                 `json:"customer_id"`
	PaymentMethod   domain.PaymentMethod   `json:"payment_method"`
	DeliveryAddress domain.DeliveryAddress `json:"delivery_address"`
	Items           []CartItem             `json:"items"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CustomerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer id")
		return
	}
	if req.PaymentMethod != domain.PaymentCashOnDelivery && req.PaymentMethod != domain.PaymentPrepaid {
		h.writeError(w, http.StatusBadRequest, "unknown payment method")
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "cart is empty")
		return
	}

	order, err := h.repo.CreateOrder(r.Context(), req.CustomerID, req.PaymentMethod, req.DeliveryAddress, req.Items)
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			h.writeError(w, http.StatusBadRequest, "cart is empty")
			return
		}
		h.logger.Error("failed to create order", "error", err, "customer_id", req.CustomerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.announceOrder(r, order)

	h.writeJSON(w, http.StatusCreated, order)
}

// announceOrder publishes the placed event for the email worker and
// pushes an incoming-order event to every connected shop owner. Both
// are best effort; the order is already committed.
func (h *Handler) announceOrder(r *http.Request, order *domain.Order) {
	ctx := r.Context()

	placed := domain.OrderPlacedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Timestamp:  order.CreatedAt,
	}

	ownerIDs := make([]string, 0, len(order.ShopOrders))
	for _, so := range order.ShopOrders {
		ownerIDs = append(ownerIDs, so.OwnerID)
	}
	handles, err := h.repo.ConnectionHandles(ctx, ownerIDs)
	if err != nil {
		h.logger.Error("failed to resolve owner handles", "error", err, "order_id", order.ID)
		handles = map[string]string{}
	}

	ownerEmails, err := h.ownerEmails(r, ownerIDs)
	if err != nil {
		h.logger.Error("failed to resolve owner emails", "error", err, "order_id", order.ID)
	}

	for _, so := range order.ShopOrders {
		placed.ShopOrders = append(placed.ShopOrders, domain.PlacedShopSlice{
			ShopOrderID: so.ID,
			ShopID:      so.ShopID,
			ShopName:    so.ShopName,
			OwnerID:     so.OwnerID,
			OwnerEmail:  ownerEmails[so.OwnerID],
			Subtotal:    so.Subtotal,
		})

		err := h.notifier.Push(ctx, handles[so.OwnerID], domain.EventOrderIncoming, domain.OrderIncomingEvent{
			OrderID:   order.ID,
			ShopID:    so.ShopID,
			CreatedAt: order.CreatedAt,
		})
		if err != nil {
			h.logger.Error("failed to push incoming order", "error", err, "owner_id", so.OwnerID)
		}
	}

	if err := h.placed.Publish(ctx, order.ID, "order.placed", placed); err != nil {
		h.logger.Error("failed to publish order placed", "error", err, "order_id", order.ID)
	}
}

func (h *Handler) ownerEmails(r *http.Request, ownerIDs []string) (map[string]string, error) {
	emails := make(map[string]string, len(ownerIDs))
	for _, id := range ownerIDs {
		if _, ok := emails[id]; ok {
			continue
		}
		contact, err := h.repo.Customer(r.Context(), id)
		if err != nil {
			return emails, err
		}
		if contact != nil {
			emails[id] = contact.Email
		}
	}
	return emails, nil
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), orderID)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", orderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleListByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("id")
	if customerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer id")
		return
	}

	list, err := h.repo.ListByCustomer(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to list customer orders", "error", err, "customer_id", customerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("id")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing owner id")
		return
	}

	list, err := h.repo.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list owner orders", "error", err, "owner_id", ownerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

type verifyPaymentRequest struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

// HandleVerifyPayment confirms a prepaid order against the payment
// provider and flags it paid.
func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" || req.PaymentRef == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id or payment ref")
		return
	}

	payment, err := h.payments.Fetch(r.Context(), req.PaymentRef)
	if err != nil {
		h.logger.Error("failed to fetch payment", "error", err, "payment_ref", req.PaymentRef)
		h.writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}
	if !payment.Captured() {
		h.writeError(w, http.StatusBadRequest, "payment not captured")
		return
	}

	order, err := h.repo.MarkPaid(r.Context(), req.OrderID, req.PaymentRef)
	if err != nil {
		h.logger.Error("failed to mark order paid", "error", err, "order_id", req.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.ShopOrderStatus `json:"status"`
}

type updateStatusResponse struct {
	ShopOrder         *domain.ShopOrder `json:"shop_order"`
	AvailableCouriers []domain.Courier  `json:"available_couriers"`
	AssignmentID      *string           `json:"assignment_id,omitempty"`
	Message           string            `json:"message,omitempty"`
}

// HandleUpdateStatus is the owner's status entry point and the trigger
// for dispatch: moving a shop order to out-of-delivery with no live
// assignment broadcasts an offer to nearby couriers.
func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	shopOrderID := r.PathValue("shopOrderID")
	if orderID == "" || shopOrderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order or shop order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.KnownShopOrderStatus(req.Status) {
		h.writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	order, err := h.repo.GetByID(r.Context(), orderID)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", orderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	shopOrder := order.ShopOrderByID(shopOrderID)
	if shopOrder == nil {
		h.writeError(w, http.StatusNotFound, "shop order not found")
		return
	}

	if err := h.repo.SetShopOrderStatus(r.Context(), shopOrderID, req.Status); err != nil {
		h.logger.Error("failed to set status", "error", err, "shop_order_id", shopOrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	shopOrder.Status = req.Status

	resp := updateStatusResponse{ShopOrder: shopOrder, AvailableCouriers: []domain.Courier{}}

	if req.Status == domain.ShopOrderStatusOutForDelivery && shopOrder.AssignmentID == nil {
		result, err := h.dispatcher.Dispatch(r.Context(), order, shopOrder)
		if err != nil {
			h.logger.Error("dispatch failed", "error", err, "shop_order_id", shopOrderID)
			resp.Message = "status updated but dispatch failed"
		} else {
			resp.AvailableCouriers = result.Candidates
			resp.Message = result.Reason
			if result.Assignment != nil {
				resp.AssignmentID = &result.Assignment.ID
			}
		}
	}

	h.pushStatusChange(r, order, shopOrder)

	h.writeJSON(w, http.StatusOK, resp)
}

// pushStatusChange notifies the connected customer. Best effort only.
func (h *Handler) pushStatusChange(r *http.Request, order *domain.Order, shopOrder *domain.ShopOrder) {
	handles, err := h.repo.ConnectionHandles(r.Context(), []string{order.CustomerID})
	if err != nil {
		h.logger.Error("failed to resolve customer handle", "error", err, "customer_id", order.CustomerID)
		return
	}

	err = h.notifier.Push(r.Context(), handles[order.CustomerID], domain.EventStatusChanged, domain.StatusChangedEvent{
		OrderID:    order.ID,
		ShopID:     shopOrder.ShopID,
		Status:     shopOrder.Status,
		CustomerID: order.CustomerID,
	})
	if err != nil {
		h.logger.Error("failed to push status change", "error", err, "order_id", order.ID)
	}
}

func (h *Handler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	shopOrderID := r.PathValue("shopOrderID")
	if orderID == "" || shopOrderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order or shop order id")
		return
	}

	if err := h.otp.Send(r.Context(), orderID, shopOrderID); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to send otp", "error", err, "shop_order_id", shopOrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "delivery code sent"})
}

type verifyOTPRequest struct {
	Code string `json:"code"`
}

func (h *Handler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	shopOrderID := r.PathValue("shopOrderID")
	if orderID == "" || shopOrderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order or shop order id")
		return
	}

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.otp.Verify(r.Context(), orderID, shopOrderID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, ErrInvalidOTP):
			h.writeError(w, http.StatusBadRequest, "invalid or expired delivery code")
		default:
			h.logger.Error("failed to verify otp", "error", err, "shop_order_id", shopOrderID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.pushStatusChange(r, order, order.ShopOrderByID(shopOrderID))

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
