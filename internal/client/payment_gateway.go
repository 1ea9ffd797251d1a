package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/service"
)

// MockPaymentGateway simulates the payment rail. Vendors whose name contains
// a blocked fragment and amounts above the single-transaction limit are
// declined; everything else succeeds with a TXN-YYYYMMDD-XXXXXXXX id.
type MockPaymentGateway struct {
	limit   decimal.Decimal
	blocked []string
	now     func() time.Time
	log     *logger.Logger
}

// NewMockPaymentGateway creates a gateway with the given limit and blocked
// vendor name fragments.
func NewMockPaymentGateway(limit float64, blocked []string, log *logger.Logger) *MockPaymentGateway {
	return &MockPaymentGateway{
		limit:   decimal.NewFromFloat(limit),
		blocked: blocked,
		now:     time.Now,
		log:     log,
	}
}

// Pay implements service.PaymentGateway.
func (g *MockPaymentGateway) Pay(ctx context.Context, vendor string, amount float64) (*service.PaymentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, fragment := range g.blocked {
		if fragment != "" && strings.Contains(vendor, fragment) {
			g.log.Warn().Str("vendor", vendor).Msg("Payment blocked by watchlist")
			return &service.PaymentResponse{Error: "Payment blocked: Vendor on fraud watchlist"}, nil
		}
	}

	if decimal.NewFromFloat(amount).GreaterThan(g.limit) {
		g.log.Warn().Str("vendor", vendor).Float64("amount", amount).Msg("Payment exceeds transaction limit")
		return &service.PaymentResponse{Error: "Payment blocked: Amount exceeds single transaction limit"}, nil
	}

	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	txn := fmt.Sprintf("TXN-%s-%s", g.now().Format("20060102"), suffix)

	g.log.Info().Str("vendor", vendor).Float64("amount", amount).Str("transaction_id", txn).Msg("Payment executed")
	return &service.PaymentResponse{Success: true, TransactionID: txn}, nil
}
