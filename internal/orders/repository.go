package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/feastly/dispatch/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Contact is the user subset needed for emails and pushes.
type Contact struct {
	ID               string
	FullName         string
	Email            string
	ConnectionHandle string
}

// OTPRecord is the delivery code currently stored on a shop order.
type OTPRecord struct {
	Code      string
	ExpiresAt time.Time
}

// OwnerOrderView narrows an order to the slice belonging to one shop
// owner.
type OwnerOrderView struct {
	OrderID         string                 `json:"order_id"`
	CustomerID      string                 `json:"customer_id"`
	PaymentMethod   domain.PaymentMethod   `json:"payment_method"`
	Paid            bool                   `json:"paid"`
	DeliveryAddress domain.DeliveryAddress `json:"delivery_address"`
	ShopOrder       domain.ShopOrder       `json:"shop_order"`
	CreatedAt       time.Time              `json:"created_at"`
}

type shopInfo struct {
	id      string
	name    string
	ownerID string
}

// CreateOrder groups the cart by shop, computes per-shop subtotals and
// writes the order aggregate in one transaction. The order total is
// computed server side rather than trusted from the request.
func (r *OrderRepository) CreateOrder(ctx context.Context, customerID string, method domain.PaymentMethod, address domain.DeliveryAddress, cart []CartItem) (*domain.Order, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	shopIDs, byShop := GroupCartByShop(cart)

	shops, err := r.shopsByID(ctx, shopIDs)
	if err != nil {
		return nil, err
	}
	for _, shopID := range shopIDs {
		if _, ok := shops[shopID]; !ok {
			return nil, fmt.Errorf("shop not found: %s", shopID)
		}
	}

	order := &domain.Order{
		ID:              uuid.New().String(),
		CustomerID:      customerID,
		PaymentMethod:   method,
		DeliveryAddress: address,
		CreatedAt:       time.Now().UTC(),
	}

	for _, shopID := range shopIDs {
		items := byShop[shopID]
		subtotal := Subtotal(items)
		order.Total += subtotal

		shopOrder := domain.ShopOrder{
			ID:       uuid.New().String(),
			OrderID:  order.ID,
			ShopID:   shopID,
			ShopName: shops[shopID].name,
			OwnerID:  shops[shopID].ownerID,
			Subtotal: subtotal,
			Status:   domain.ShopOrderStatusPending,
		}
		for _, item := range items {
			shopOrder.Items = append(shopOrder.Items, domain.ShopOrderItem{
				ItemID:   item.ItemID,
				Name:     item.Name,
				Price:    item.Price,
				Quantity: item.Quantity,
			})
		}
		order.ShopOrders = append(order.ShopOrders, shopOrder)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, payment_method, paid, total, address_text, address_longitude, address_latitude, created_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6, $7, $8)
	`, order.ID, order.CustomerID, order.PaymentMethod, order.Total,
		address.Text, address.Longitude, address.Latitude, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, shopOrder := range order.ShopOrders {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shop_orders (id, order_id, shop_id, owner_id, subtotal, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, shopOrder.ID, order.ID, shopOrder.ShopID, shopOrder.OwnerID, shopOrder.Subtotal, shopOrder.Status)
		if err != nil {
			return nil, err
		}

		for i, item := range shopOrder.Items {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO shop_order_items (id, shop_order_id, item_id, name, price, quantity, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, uuid.New().String(), shopOrder.ID, item.ItemID, item.Name, item.Price, item.Quantity, i)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) shopsByID(ctx context.Context, ids []string) (map[string]shopInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, owner_id FROM shops WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	shops := make(map[string]shopInfo)
	for rows.Next() {
		var s shopInfo
		if err := rows.Scan(&s.id, &s.name, &s.ownerID); err != nil {
			return nil, err
		}
		shops[s.id] = s
	}

	return shops, rows.Err()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order := &domain.Order{}
	var paymentRef sql.NullString
	var longitude, latitude sql.NullFloat64

	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, payment_method, paid, payment_ref, total, address_text, address_longitude, address_latitude, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.CustomerID, &order.PaymentMethod, &order.Paid, &paymentRef,
		&order.Total, &order.DeliveryAddress.Text, &longitude, &latitude, &order.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	order.PaymentRef = paymentRef.String
	if longitude.Valid {
		order.DeliveryAddress.Longitude = &longitude.Float64
	}
	if latitude.Valid {
		order.DeliveryAddress.Latitude = &latitude.Float64
	}

	shopOrders, err := r.shopOrdersByOrder(ctx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.ShopOrders = shopOrders[order.ID]

	return order, nil
}

// shopOrdersByOrder hydrates the embedded shop orders (with shop names
// and line items) for a batch of orders in two queries.
func (r *OrderRepository) shopOrdersByOrder(ctx context.Context, orderIDs []string) (map[string][]domain.ShopOrder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT so.id, so.order_id, so.shop_id, s.name, so.owner_id, so.subtotal, so.status,
		       so.assigned_courier_id, so.assignment_id, so.delivered_at
		FROM shop_orders so
		JOIN shops s ON s.id = so.shop_id
		WHERE so.order_id = ANY($1)
		ORDER BY so.id
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byOrder := make(map[string][]domain.ShopOrder)
	var shopOrderIDs []string

	for rows.Next() {
		var so domain.ShopOrder
		var courierID, assignmentID sql.NullString
		var deliveredAt sql.NullTime
		if err := rows.Scan(&so.ID, &so.OrderID, &so.ShopID, &so.ShopName, &so.OwnerID,
			&so.Subtotal, &so.Status, &courierID, &assignmentID, &deliveredAt); err != nil {
			return nil, err
		}
		if courierID.Valid {
			so.AssignedCourierID = &courierID.String
		}
		if assignmentID.Valid {
			so.AssignmentID = &assignmentID.String
		}
		if deliveredAt.Valid {
			so.DeliveredAt = &deliveredAt.Time
		}
		so.Items = []domain.ShopOrderItem{}

		byOrder[so.OrderID] = append(byOrder[so.OrderID], so)
		shopOrderIDs = append(shopOrderIDs, so.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(shopOrderIDs) == 0 {
		return byOrder, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT shop_order_id, item_id, name, price, quantity
		FROM shop_order_items
		WHERE shop_order_id = ANY($1)
		ORDER BY position
	`, pq.Array(shopOrderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var shopOrderID string
		var item domain.ShopOrderItem
		if err := itemRows.Scan(&shopOrderID, &item.ItemID, &item.Name, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		for orderID := range byOrder {
			for i := range byOrder[orderID] {
				if byOrder[orderID][i].ID == shopOrderID {
					byOrder[orderID][i].Items = append(byOrder[orderID][i].Items, item)
				}
			}
		}
	}

	return byOrder, itemRows.Err()
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_id, payment_method, paid, payment_ref, total, address_text, address_longitude, address_latitude, created_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []domain.Order
	var ids []string
	for rows.Next() {
		var order domain.Order
		var paymentRef sql.NullString
		var longitude, latitude sql.NullFloat64
		if err := rows.Scan(&order.ID, &order.CustomerID, &order.PaymentMethod, &order.Paid, &paymentRef,
			&order.Total, &order.DeliveryAddress.Text, &longitude, &latitude, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.PaymentRef = paymentRef.String
		if longitude.Valid {
			order.DeliveryAddress.Longitude = &longitude.Float64
		}
		if latitude.Valid {
			order.DeliveryAddress.Latitude = &latitude.Float64
		}
		list = append(list, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	shopOrders, err := r.shopOrdersByOrder(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].ShopOrders = shopOrders[list[i].ID]
	}

	return list, nil
}

// ListByOwner returns orders containing the owner's shop, narrowed to
// that shop's slice, newest first.
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]OwnerOrderView, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.customer_id, o.payment_method, o.paid, o.address_text, o.address_longitude, o.address_latitude, o.created_at, so.id
		FROM orders o
		JOIN shop_orders so ON so.order_id = o.id
		WHERE so.owner_id = $1
		ORDER BY o.created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var views []OwnerOrderView
	var orderIDs []string
	shopOrderIdx := make(map[string]int)
	for rows.Next() {
		var v OwnerOrderView
		var longitude, latitude sql.NullFloat64
		var shopOrderID string
		if err := rows.Scan(&v.OrderID, &v.CustomerID, &v.PaymentMethod, &v.Paid,
			&v.DeliveryAddress.Text, &longitude, &latitude, &v.CreatedAt, &shopOrderID); err != nil {
			return nil, err
		}
		if longitude.Valid {
			v.DeliveryAddress.Longitude = &longitude.Float64
		}
		if latitude.Valid {
			v.DeliveryAddress.Latitude = &latitude.Float64
		}
		views = append(views, v)
		orderIDs = append(orderIDs, v.OrderID)
		shopOrderIdx[shopOrderID] = len(views) - 1
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(views) == 0 {
		return []OwnerOrderView{}, nil
	}

	shopOrders, err := r.shopOrdersByOrder(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	for _, slices := range shopOrders {
		for _, so := range slices {
			if i, ok := shopOrderIdx[so.ID]; ok {
				views[i].ShopOrder = so
			}
		}
	}

	return views, nil
}

// MarkPaid flags the order as captured. Returns nil when the order
// does not exist.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID, paymentRef string) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET paid = TRUE, payment_ref = $2
		WHERE id = $1
	`, orderID, paymentRef)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, orderID)
}

// SetShopOrderStatus writes the status unconditionally; transition
// ordering is a deliberate non-check (see KnownShopOrderStatus).
func (r *OrderRepository) SetShopOrderStatus(ctx context.Context, shopOrderID string, status domain.ShopOrderStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE shop_orders SET status = $2
		WHERE id = $1
	`, shopOrderID, status)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// SetDeliveryOTP stores the code, replacing any previous one.
func (r *OrderRepository) SetDeliveryOTP(ctx context.Context, shopOrderID, code string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE shop_orders SET otp_code = $2, otp_expires_at = $3
		WHERE id = $1
	`, shopOrderID, code, expiresAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// DeliveryOTP returns the stored code, or nil when none is set.
func (r *OrderRepository) DeliveryOTP(ctx context.Context, shopOrderID string) (*OTPRecord, error) {
	var code sql.NullString
	var expiresAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT otp_code, otp_expires_at FROM shop_orders WHERE id = $1
	`, shopOrderID).Scan(&code, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if !code.Valid || !expiresAt.Valid {
		return nil, nil
	}

	return &OTPRecord{Code: code.String, ExpiresAt: expiresAt.Time}, nil
}

// MarkDelivered closes out the shop order and clears the OTP so the
// same code cannot be replayed.
func (r *OrderRepository) MarkDelivered(ctx context.Context, shopOrderID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE shop_orders
		SET status = $2, delivered_at = $3, otp_code = NULL, otp_expires_at = NULL
		WHERE id = $1
	`, shopOrderID, domain.ShopOrderStatusDelivered, at)
	return err
}

// ConnectionHandles maps user ids to their realtime session handles.
// Disconnected users map to the empty string.
func (r *OrderRepository) ConnectionHandles(ctx context.Context, ids []string) (map[string]string, error) {
	handles := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return handles, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, connection_handle FROM users WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, handle string
		if err := rows.Scan(&id, &handle); err != nil {
			return nil, err
		}
		handles[id] = handle
	}

	return handles, rows.Err()
}

// Customer returns the ordering user's contact details, or nil.
func (r *OrderRepository) Customer(ctx context.Context, id string) (*Contact, error) {
	contact := &Contact{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, connection_handle FROM users WHERE id = $1
	`, id).Scan(&contact.ID, &contact.FullName, &contact.Email, &contact.ConnectionHandle)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return contact, nil
}
