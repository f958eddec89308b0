// Package payments provides the payment strategies accepted by the
// reservation engine. Settlement happens outside this system; strategies
// only issue transaction and refund references.
package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
)

// Strategy is a payment provider identified by a transaction id prefix
type Strategy struct {
	method entities.PaymentMethod
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewCreditCard creates the credit card strategy
func NewCreditCard(logger zerolog.Logger) *Strategy {
	return newStrategy(entities.PaymentMethodCreditCard, "CC", logger)
}

// NewPayPal creates the PayPal strategy
func NewPayPal(logger zerolog.Logger) *Strategy {
	return newStrategy(entities.PaymentMethodPayPal, "PP", logger)
}

// NewBankTransfer creates the bank transfer strategy
func NewBankTransfer(logger zerolog.Logger) *Strategy {
	return newStrategy(entities.PaymentMethodBankTransfer, "BT", logger)
}

// Defaults returns every built-in strategy
func Defaults(logger zerolog.Logger) []providers.PaymentProvider {
	return []providers.PaymentProvider{
		NewCreditCard(logger),
		NewPayPal(logger),
		NewBankTransfer(logger),
	}
}

func newStrategy(method entities.PaymentMethod, prefix string, logger zerolog.Logger) *Strategy {
	return &Strategy{
		method: method,
		prefix: prefix,
		logger: logger.With().Str("payment_method", string(method)).Logger(),
		now:    time.Now,
	}
}

// Method returns the payment method served by the strategy
func (s *Strategy) Method() entities.PaymentMethod {
	return s.method
}

// Charge issues a transaction reference for the request
func (s *Strategy) Charge(ctx context.Context, req entities.PaymentRequest) (*entities.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method != s.method {
		return nil, fmt.Errorf("%s strategy cannot charge %s", s.method, req.Method)
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("invalid amount %d", req.AmountCents)
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, fmt.Errorf("currency is required")
	}

	result := &entities.PaymentResult{
		TransactionID: s.prefix + "-" + uuid.New().String(),
		Method:        s.method,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		ProcessedAt:   s.now().UTC(),
	}
	s.logger.Info().
		Str("booking_id", req.BookingID).
		Int64("amount_cents", req.AmountCents).
		Str("currency", req.Currency).
		Str("transaction_id", result.TransactionID).
		Msg("payment processed")
	return result, nil
}

// Refund issues a refund reference for a transaction of this strategy
func (s *Strategy) Refund(ctx context.Context, transactionID string, amountCents int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !strings.HasPrefix(transactionID, s.prefix+"-") {
		return "", fmt.Errorf("transaction %s was not issued by %s", transactionID, s.method)
	}

	refundID := "RF-" + transactionID
	s.logger.Info().
		Str("transaction_id", transactionID).
		Int64("amount_cents", amountCents).
		Str("refund_id", refundID).
		Msg("payment refunded")
	return refundID, nil
}
