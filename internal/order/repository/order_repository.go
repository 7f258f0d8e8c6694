package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/order/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
	"github.com/lib/pq"
)

// Schema bootstraps the order ledger on an empty database.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                       BIGSERIAL PRIMARY KEY,
	customer_id              BIGINT         NOT NULL,
	tracking_number          VARCHAR(64)    NOT NULL UNIQUE,
	total_price              NUMERIC(18, 2) NOT NULL,
	total_quantity           INTEGER        NOT NULL,
	shipping_fee             NUMERIC(18, 2) NOT NULL,
	status                   VARCHAR(32)    NOT NULL,
	shipping_address         JSONB          NOT NULL,
	billing_address          JSONB,
	payment_method           VARCHAR(32)    NOT NULL,
	fulfillment_published_at TIMESTAMPTZ,
	created_at               TIMESTAMPTZ    NOT NULL,
	updated_at               TIMESTAMPTZ    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders (customer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_unpublished ON orders (created_at)
	WHERE fulfillment_published_at IS NULL;

CREATE TABLE IF NOT EXISTS order_items (
	id         BIGSERIAL PRIMARY KEY,
	order_id   BIGINT         NOT NULL REFERENCES orders (id),
	product_id VARCHAR(64)    NOT NULL,
	quantity   INTEGER        NOT NULL CHECK (quantity >= 1),
	unit_price NUMERIC(18, 2) NOT NULL CHECK (unit_price >= 0),
	image_url  TEXT
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id);
`

const selectOrderColumns = `
	SELECT id, customer_id, tracking_number, total_price, total_quantity, shipping_fee,
		   status, shipping_address, billing_address, payment_method,
		   fulfillment_published_at, created_at, updated_at
	FROM orders`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("order schema error: %w", err)
	}
	return nil
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateOrder writes the order row and all of its items in one transaction and
// sets order.ID.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *domain.OrderAggregate) error {
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("shipping address serialization error: %w", err)
	}

	var billingJSON interface{}
	if order.BillingAddress != nil {
		b, err := json.Marshal(order.BillingAddress)
		if err != nil {
			return fmt.Errorf("billing address serialization error: %w", err)
		}
		billingJSON = b
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("order transaction begin error: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			customer_id, tracking_number, total_price, total_quantity, shipping_fee,
			status, shipping_address, billing_address, payment_method, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = tx.QueryRowContext(ctx, query,
		order.CustomerID,
		order.TrackingNumber,
		order.TotalPrice,
		order.TotalQuantity,
		order.ShippingFee,
		order.Status,
		shippingJSON,
		billingJSON,
		order.PaymentMethod,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("order creation error: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, image_url)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, itemQuery,
			order.ID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
			nullString(item.ImageURL),
		)
		if err != nil {
			return fmt.Errorf("order item creation error (%s): %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("order transaction commit error: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, orderID int64) (*domain.OrderAggregate, error) {
	orders, err := r.queryOrders(ctx, selectOrderColumns+` WHERE id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
	}
	return orders[0], nil
}

// GetOrdersByCustomerID pages through a customer's orders, newest first.
func (r *OrderRepository) GetOrdersByCustomerID(ctx context.Context, customerID int64, limit, offset int) ([]*domain.OrderAggregate, error) {
	return r.queryOrders(ctx,
		selectOrderColumns+` WHERE customer_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		customerID, limit, offset)
}

// GetUnpublishedOrders returns PENDING orders created before cutoff whose
// fulfillment event was never confirmed by the broker.
func (r *OrderRepository) GetUnpublishedOrders(ctx context.Context, cutoff time.Time, limit int) ([]*domain.OrderAggregate, error) {
	return r.queryOrders(ctx,
		selectOrderColumns+` WHERE status = $1 AND fulfillment_published_at IS NULL AND created_at < $2 ORDER BY id LIMIT $3`,
		types.OrderStatusPending, cutoff, limit)
}

func (r *OrderRepository) MarkFulfillmentPublished(ctx context.Context, orderID int64, at time.Time) error {
	query := `
		UPDATE orders
		SET fulfillment_published_at = $2
		WHERE id = $1 AND fulfillment_published_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, orderID, at); err != nil {
		return fmt.Errorf("order publish stamp error: %w", err)
	}
	return nil
}

// TransitionStatus moves the order to target only when its current status is
// one of from. It reports whether the row changed.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID int64, target types.OrderStatus, from []types.OrderStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`
	result, err := r.db.ExecContext(ctx, query, orderID, target, time.Now().UTC(), pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("order status update error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

func (r *OrderRepository) GetOrderStatus(ctx context.Context, orderID int64) (types.OrderStatus, error) {
	var status types.OrderStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %d", domain.ErrOrderNotFound, orderID)
		}
		return "", fmt.Errorf("order status receive error: %w", err)
	}
	return status, nil
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*domain.OrderAggregate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("orders receive error: %w", err)
	}
	defer rows.Close()

	var orders []*domain.OrderAggregate
	byID := make(map[int64]*domain.OrderAggregate)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
		byID[order.ID] = order
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders receive error: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}
	if err := r.loadItems(ctx, byID); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, byID map[int64]*domain.OrderAggregate) error {
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	query := `
		SELECT order_id, product_id, quantity, unit_price, COALESCE(image_url, '')
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("order items receive error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var item types.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.ImageURL); err != nil {
			return fmt.Errorf("order item scan error: %w", err)
		}
		if order, ok := byID[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.OrderAggregate, error) {
	order := &domain.OrderAggregate{}
	var shippingJSON, billingJSON []byte
	var publishedAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.TrackingNumber,
		&order.TotalPrice,
		&order.TotalQuantity,
		&order.ShippingFee,
		&order.Status,
		&shippingJSON,
		&billingJSON,
		&order.PaymentMethod,
		&publishedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("order scan error: %w", err)
	}

	if err := json.Unmarshal(shippingJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("shipping address deserialization error: %w", err)
	}
	if len(billingJSON) > 0 {
		order.BillingAddress = &types.ShippingAddress{}
		if err := json.Unmarshal(billingJSON, order.BillingAddress); err != nil {
			return nil, fmt.Errorf("billing address deserialization error: %w", err)
		}
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		order.FulfillmentPublishedAt = &t
	}
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
