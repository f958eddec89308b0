package providers

import (
	"context"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// PaymentProvider is a payment strategy for one payment method
type PaymentProvider interface {
	// Method returns the payment method served by this strategy
	Method() entities.PaymentMethod

	// Charge processes a payment
	Charge(ctx context.Context, req entities.PaymentRequest) (*entities.PaymentResult, error)

	// Refund reverses a previous charge and returns the refund id
	Refund(ctx context.Context, transactionID string, amountCents int64) (string, error)
}
