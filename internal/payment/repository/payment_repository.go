package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/distributed-ecommerce-saga/order-pipeline/internal/payment/domain"
	"github.com/lib/pq"
)

// Schema bootstraps the payment ledger. The partial unique index allows at
// most one terminal payment per order.
const Schema = `
CREATE TABLE IF NOT EXISTS payments (
	id                  BIGSERIAL PRIMARY KEY,
	payment_id          VARCHAR(64)    NOT NULL UNIQUE,
	order_id            BIGINT         NOT NULL,
	amount              NUMERIC(18, 2) NOT NULL,
	method              VARCHAR(32)    NOT NULL,
	provider            VARCHAR(32)    NOT NULL,
	status              VARCHAR(16)    NOT NULL,
	transaction_id      VARCHAR(64),
	failure_reason      TEXT,
	result_published_at TIMESTAMPTZ,
	created_at          TIMESTAMPTZ    NOT NULL,
	updated_at          TIMESTAMPTZ    NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_terminal_order ON payments (order_id)
	WHERE status IN ('COMPLETED', 'FAILED');
`

const selectPaymentColumns = `
	SELECT payment_id, order_id, amount, method, provider, status,
		   COALESCE(transaction_id, ''), COALESCE(failure_reason, ''),
		   result_published_at, created_at, updated_at
	FROM payments`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("payment schema error: %w", err)
	}
	return nil
}

func (r *PaymentRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// FindTerminalByOrderID returns the COMPLETED or FAILED payment of an order.
func (r *PaymentRepository) FindTerminalByOrderID(ctx context.Context, orderID int64) (*domain.PaymentAggregate, error) {
	return r.queryOne(ctx,
		selectPaymentColumns+` WHERE order_id = $1 AND status IN ('COMPLETED', 'FAILED')`,
		orderID)
}

// InsertTerminal stores a terminal payment unless the order already has one.
// It reports false when another writer got there first.
func (r *PaymentRepository) InsertTerminal(ctx context.Context, payment *domain.PaymentAggregate) (bool, error) {
	if !payment.Status.Terminal() {
		return false, fmt.Errorf("payment %s is not terminal: %s", payment.ID, payment.Status)
	}

	query := `
		INSERT INTO payments (
			payment_id, order_id, amount, method, provider, status,
			transaction_id, failure_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) WHERE status IN ('COMPLETED', 'FAILED') DO NOTHING
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.Amount,
		payment.Method,
		payment.Provider,
		payment.Status,
		nullString(payment.TransactionID),
		nullString(payment.FailureReason),
		payment.CreatedAt,
		payment.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isTerminalConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("payment creation error: %w", err)
	}
	return true, nil
}

func (r *PaymentRepository) MarkResultPublished(ctx context.Context, paymentID string, at time.Time) error {
	query := `
		UPDATE payments
		SET result_published_at = $2
		WHERE payment_id = $1 AND result_published_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, paymentID, at); err != nil {
		return fmt.Errorf("payment publish stamp error: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetPaymentByID(ctx context.Context, paymentID string) (*domain.PaymentAggregate, error) {
	return r.queryOne(ctx, selectPaymentColumns+` WHERE payment_id = $1`, paymentID)
}

// GetPaymentByOrderID prefers the terminal payment and falls back to the newest row.
func (r *PaymentRepository) GetPaymentByOrderID(ctx context.Context, orderID int64) (*domain.PaymentAggregate, error) {
	return r.queryOne(ctx, selectPaymentColumns+`
		WHERE order_id = $1
		ORDER BY (status IN ('COMPLETED', 'FAILED')) DESC, created_at DESC
		LIMIT 1`, orderID)
}

func (r *PaymentRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*domain.PaymentAggregate, error) {
	payment := &domain.PaymentAggregate{}
	var publishedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Amount,
		&payment.Method,
		&payment.Provider,
		&payment.Status,
		&payment.TransactionID,
		&payment.FailureReason,
		&publishedAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment receive error: %w", err)
	}

	if publishedAt.Valid {
		t := publishedAt.Time
		payment.ResultPublishedAt = &t
	}
	return payment, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const terminalOrderIndex = "uq_payments_terminal_order"

// isTerminalConflict matches a unique violation on the terminal payment index.
func isTerminalConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == terminalOrderIndex
}
