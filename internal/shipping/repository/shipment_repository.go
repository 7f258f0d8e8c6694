package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/shipping/domain"
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
)

// Schema bootstraps the shipping ledger. One shipment per order.
const Schema = `
CREATE TABLE IF NOT EXISTS shipments (
	id              BIGSERIAL PRIMARY KEY,
	order_id        BIGINT      NOT NULL UNIQUE,
	customer_id     BIGINT      NOT NULL,
	tracking_number VARCHAR(64) NOT NULL,
	address         JSONB       NOT NULL,
	items           JSONB       NOT NULL,
	status          VARCHAR(16) NOT NULL,
	shipped_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
`

type ShipmentRepository struct {
	db *sql.DB
}

func NewShipmentRepository(db *sql.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

func (r *ShipmentRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("shipment schema error: %w", err)
	}
	return nil
}

func (r *ShipmentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InsertIfAbsent stores the shipment and sets its ID. It reports false when
// the order already has a shipment.
func (r *ShipmentRepository) InsertIfAbsent(ctx context.Context, shipment *domain.ShipmentAggregate) (bool, error) {
	addressJSON, err := json.Marshal(shipment.Address)
	if err != nil {
		return false, fmt.Errorf("address serialization error: %w", err)
	}
	itemsJSON, err := json.Marshal(shipment.Items)
	if err != nil {
		return false, fmt.Errorf("items serialization error: %w", err)
	}

	query := `
		INSERT INTO shipments (
			order_id, customer_id, tracking_number, address, items,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		shipment.OrderID,
		shipment.CustomerID,
		shipment.TrackingNumber,
		addressJSON,
		itemsJSON,
		shipment.Status,
		shipment.CreatedAt,
		shipment.UpdatedAt,
	).Scan(&shipment.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("shipment creation error: %w", err)
	}
	return true, nil
}

func (r *ShipmentRepository) GetShipmentByOrderID(ctx context.Context, orderID int64) (*domain.ShipmentAggregate, error) {
	query := `
		SELECT id, order_id, customer_id, tracking_number, address, items,
			   status, shipped_at, created_at, updated_at
		FROM shipments
		WHERE order_id = $1
	`

	shipment := &domain.ShipmentAggregate{}
	var addressJSON, itemsJSON []byte
	var shippedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&shipment.ID,
		&shipment.OrderID,
		&shipment.CustomerID,
		&shipment.TrackingNumber,
		&addressJSON,
		&itemsJSON,
		&shipment.Status,
		&shippedAt,
		&shipment.CreatedAt,
		&shipment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", domain.ErrShipmentNotFound, orderID)
		}
		return nil, fmt.Errorf("shipment receive error: %w", err)
	}

	if err := json.Unmarshal(addressJSON, &shipment.Address); err != nil {
		return nil, fmt.Errorf("address deserialization error: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &shipment.Items); err != nil {
		return nil, fmt.Errorf("items deserialization error: %w", err)
	}
	if shippedAt.Valid {
		t := shippedAt.Time
		shipment.ShippedAt = &t
	}

	return shipment, nil
}

// MarkShipped moves a PENDING shipment to SHIPPED. It reports false when the
// shipment was not PENDING.
func (r *ShipmentRepository) MarkShipped(ctx context.Context, orderID int64, at time.Time) (bool, error) {
	query := `
		UPDATE shipments
		SET status = $2, shipped_at = $3, updated_at = $3
		WHERE order_id = $1 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, orderID, types.ShippingStatusShipped, at, types.ShippingStatusPending)
	if err != nil {
		return false, fmt.Errorf("shipment update error: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}
