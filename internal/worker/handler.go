package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/feastly/dispatch/internal/domain"
	"github.com/feastly/dispatch/internal/mail"
)

// NotificationHandler consumes order.placed events and emails each
// shop owner about their slice of the order.
type NotificationHandler struct {
	mailer *mail.Client
	logger *slog.Logger
}

func NewNotificationHandler(mailer *mail.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailer: mailer,
		logger: logger,
	}
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order placed event: %w", err)
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "customer_id", event.CustomerID)

	for _, slice := range event.ShopOrders {
		if slice.OwnerEmail == "" {
			h.logger.Warn("shop owner has no email, skipping", "owner_id", slice.OwnerID, "order_id", event.OrderID)
			continue
		}

		msg := mail.Message{
			To:      slice.OwnerEmail,
			Subject: "New order for " + slice.ShopName,
			Body: fmt.Sprintf("Order %s includes items from %s totalling %d cents. Open your dashboard to start preparing.",
				event.OrderID, slice.ShopName, slice.Subtotal),
		}
		if err := h.mailer.Send(ctx, msg); err != nil {
			h.logger.Error("failed to email shop owner", "error", err, "owner_id", slice.OwnerID, "order_id", event.OrderID)
			return fmt.Errorf("email owner %s: %w", slice.OwnerID, err)
		}
	}

	h.logger.Info("owner notifications sent", "order_id", event.OrderID, "shops", len(event.ShopOrders))
	return nil
}
