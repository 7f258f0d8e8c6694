package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(amount int64) PaymentRequest {
	return PaymentRequest{PaymentID: "pay_1", OrderID: 1, Amount: decimal.NewFromInt(amount), PaymentMethod: "COD"}
}

func TestMockGatewayApprovesByDefault(t *testing.T) {
	gw := NewMockPaymentGateway(0, decimal.Zero)

	for i := 0; i < 50; i++ {
		res, err := gw.Authorize(context.Background(), request(428000))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.NotEmpty(t, res.TransactionID)
	}
}

func TestMockGatewayDeclinesAboveThreshold(t *testing.T) {
	gw := NewMockPaymentGateway(0, decimal.NewFromInt(1000))

	res, err := gw.Authorize(context.Background(), request(1001))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.FailureReason, "limit")

	res, err = gw.Authorize(context.Background(), request(1000))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestMockGatewayAlwaysFails(t *testing.T) {
	gw := NewMockPaymentGateway(1, decimal.Zero)

	res, err := gw.Authorize(context.Background(), request(1))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "insufficient funds", res.FailureReason)
}

func TestMockGatewayHonoursCancellation(t *testing.T) {
	gw := NewMockPaymentGateway(0, decimal.Zero)
	gw.Latency = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Authorize(ctx, request(1))
	assert.ErrorIs(t, err, context.Canceled)
}
