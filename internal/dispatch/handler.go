package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/feastly/dispatch/internal/couriers"
	"github.com/feastly/dispatch/internal/domain"
)

// Handler serves the courier-facing side of dispatch: open offers,
// acceptance and the current active order.
type Handler struct {
	repo     *Repository
	resolver *Resolver
	orders   OrderStore
	geo      *couriers.LocationIndex
	logger   *slog.Logger
}

func NewHandler(repo *Repository, resolver *Resolver, orders OrderStore, geo *couriers.LocationIndex, logger *slog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		resolver: resolver,
		orders:   orders,
		geo:      geo,
		logger:   logger,
	}
}

// offerView is what a courier sees before accepting.
type offerView struct {
	AssignmentID    string                 `json:"assignment_id"`
	OrderID         string                 `json:"order_id"`
	ShopName        string                 `json:"shop_name"`
	DeliveryAddress domain.DeliveryAddress `json:"delivery_address"`
	Items           []domain.ShopOrderItem `json:"items"`
	Subtotal        int64                  `json:"subtotal"`
}

func (h *Handler) HandleListOffers(w http.ResponseWriter, r *http.Request) {
	courierID := r.PathValue("id")
	if courierID == "" {
		h.writeError(w, http.StatusBadRequest, "missing courier id")
		return
	}

	assignments, err := h.repo.OpenBroadcastsFor(r.Context(), courierID)
	if err != nil {
		h.logger.Error("failed to list open broadcasts", "error", err, "courier_id", courierID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	offers := make([]offerView, 0, len(assignments))
	for _, a := range assignments {
		order, err := h.orders.GetByID(r.Context(), a.OrderID)
		if err != nil {
			h.logger.Error("failed to load order for offer", "error", err, "order_id", a.OrderID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if order == nil {
			continue
		}
		shopOrder := order.ShopOrderByID(a.ShopOrderID)
		if shopOrder == nil {
			continue
		}
		offers = append(offers, offerView{
			AssignmentID:    a.ID,
			OrderID:         order.ID,
			ShopName:        shopOrder.ShopName,
			DeliveryAddress: order.DeliveryAddress,
			Items:           shopOrder.Items,
			Subtotal:        shopOrder.Subtotal,
		})
	}

	h.writeJSON(w, http.StatusOK, offers)
}

type acceptRequest struct {
	CourierID string `json:"courier_id"`
}

type acceptResponse struct {
	AssignmentID string `json:"assignment_id"`
	OrderID      string `json:"order_id"`
	ShopOrderID  string `json:"shop_order_id"`
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	assignmentID := r.PathValue("id")
	if assignmentID == "" {
		h.writeError(w, http.StatusBadRequest, "missing assignment id")
		return
	}

	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CourierID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accepted, err := h.resolver.Accept(r.Context(), assignmentID, req.CourierID)
	if err != nil {
		switch {
		case errors.Is(err, ErrAssignmentNotFound):
			h.writeError(w, http.StatusNotFound, "assignment not found")
		case errors.Is(err, ErrAssignmentExpired):
			h.writeError(w, http.StatusConflict, "assignment expired")
		case errors.Is(err, ErrCourierBusy):
			h.writeError(w, http.StatusConflict, "courier already assigned to another order")
		case errors.Is(err, ErrAssignmentTaken):
			h.writeError(w, http.StatusConflict, "assignment already taken by another courier")
		default:
			h.logger.Error("failed to accept assignment", "error", err,
				"assignment_id", assignmentID, "courier_id", req.CourierID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, acceptResponse{
		AssignmentID: accepted.ID,
		OrderID:      accepted.OrderID,
		ShopOrderID:  accepted.ShopOrderID,
	})
}

type latLon struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type currentOrderView struct {
	OrderID          string                 `json:"order_id"`
	CustomerID       string                 `json:"customer_id"`
	ShopOrder        domain.ShopOrder       `json:"shop_order"`
	DeliveryAddress  domain.DeliveryAddress `json:"delivery_address"`
	CourierLocation  latLon                 `json:"courier_location"`
	CustomerLocation latLon                 `json:"customer_location"`
}

func (h *Handler) HandleCurrentOrder(w http.ResponseWriter, r *http.Request) {
	courierID := r.PathValue("id")
	if courierID == "" {
		h.writeError(w, http.StatusBadRequest, "missing courier id")
		return
	}

	assignment, err := h.repo.CurrentFor(r.Context(), courierID)
	if err != nil {
		h.logger.Error("failed to load current assignment", "error", err, "courier_id", courierID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if assignment == nil {
		h.writeJSON(w, http.StatusOK, nil)
		return
	}

	order, err := h.orders.GetByID(r.Context(), assignment.OrderID)
	if err != nil {
		h.logger.Error("failed to load order", "error", err, "order_id", assignment.OrderID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	shopOrder := order.ShopOrderByID(assignment.ShopOrderID)
	if shopOrder == nil {
		h.writeError(w, http.StatusNotFound, "shop order not found")
		return
	}

	view := currentOrderView{
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		ShopOrder:       *shopOrder,
		DeliveryAddress: order.DeliveryAddress,
		CustomerLocation: latLon{
			Lat: order.DeliveryAddress.Latitude,
			Lon: order.DeliveryAddress.Longitude,
		},
	}

	if position, err := h.geo.Get(r.Context(), courierID); err == nil && position != nil {
		view.CourierLocation = latLon{Lat: &position.Latitude, Lon: &position.Longitude}
	}

	h.writeJSON(w, http.StatusOK, view)
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
