package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/feastly/dispatch/internal/domain"
)

var (
	ErrNotFound   = errors.New("order not found")
	ErrInvalidOTP = errors.New("invalid or expired delivery code")
)

// DefaultOTPTTL is how long a delivery code stays valid after it is
// sent.
const DefaultOTPTTL = 5 * time.Minute

type OTPStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	Customer(ctx context.Context, id string) (*Contact, error)
	SetDeliveryOTP(ctx context.Context, shopOrderID, code string, expiresAt time.Time) error
	DeliveryOTP(ctx context.Context, shopOrderID string) (*OTPRecord, error)
	MarkDelivered(ctx context.Context, shopOrderID string, at time.Time) error
}

type OTPMailer interface {
	SendDeliveryOTP(ctx context.Context, to, code string) error
}

// LedgerCompleter marks the shop order delivered and closes its
// assignment atomically once the hand-off is verified.
type LedgerCompleter interface {
	CompleteDelivery(ctx context.Context, orderID, shopOrderID, courierID string, deliveredAt time.Time) error
}

// OTPService issues and verifies the delivery hand-off codes that
// gate marking a shop order delivered.
type OTPService struct {
	store  OTPStore
	mailer OTPMailer
	ledger LedgerCompleter
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

func NewOTPService(store OTPStore, mailer OTPMailer, ledger LedgerCompleter, logger *slog.Logger) *OTPService {
	return &OTPService{
		store:  store,
		mailer: mailer,
		ledger: ledger,
		logger: logger,
		ttl:    DefaultOTPTTL,
		now:    time.Now,
	}
}

// Send issues a fresh 4-digit code to the customer's email. Sending
// again overwrites any previous code for the shop order.
func (s *OTPService) Send(ctx context.Context, orderID, shopOrderID string) error {
	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil || order.ShopOrderByID(shopOrderID) == nil {
		return ErrNotFound
	}

	customer, err := s.store.Customer(ctx, order.CustomerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return ErrNotFound
	}

	code := fmt.Sprintf("%04d", 1000+rand.Intn(9000))
	expiresAt := s.now().Add(s.ttl)

	if err := s.store.SetDeliveryOTP(ctx, shopOrderID, code, expiresAt); err != nil {
		return err
	}

	if err := s.mailer.SendDeliveryOTP(ctx, customer.Email, code); err != nil {
		return fmt.Errorf("send delivery otp: %w", err)
	}

	s.logger.InfoContext(ctx, "delivery otp sent",
		slog.String("order_id", orderID),
		slog.String("shop_order_id", shopOrderID),
	)

	return nil
}

// Verify compares the submitted code against the stored one and, on
// match, marks the shop order delivered and completes the assignment.
// A failed attempt leaves the stored code untouched.
func (s *OTPService) Verify(ctx context.Context, orderID, shopOrderID, code string) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	shopOrder := order.ShopOrderByID(shopOrderID)
	if shopOrder == nil {
		return nil, ErrNotFound
	}

	record, err := s.store.DeliveryOTP(ctx, shopOrderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrInvalidOTP
	}

	submitted := strings.TrimSpace(code)
	if submitted != record.Code || !s.now().Before(record.ExpiresAt) {
		return nil, ErrInvalidOTP
	}

	// The delivered write and the ledger completion commit together.
	// On failure the stored code stays valid and the hand-off can be
	// retried.
	deliveredAt := s.now()
	if shopOrder.AssignedCourierID != nil {
		if err := s.ledger.CompleteDelivery(ctx, orderID, shopOrderID, *shopOrder.AssignedCourierID, deliveredAt); err != nil {
			return nil, fmt.Errorf("complete delivery: %w", err)
		}
	} else if err := s.store.MarkDelivered(ctx, shopOrderID, deliveredAt); err != nil {
		return nil, err
	}

	shopOrder.Status = domain.ShopOrderStatusDelivered
	shopOrder.DeliveredAt = &deliveredAt

	s.logger.InfoContext(ctx, "delivery confirmed",
		slog.String("order_id", orderID),
		slog.String("shop_order_id", shopOrderID),
	)

	return order, nil
}
