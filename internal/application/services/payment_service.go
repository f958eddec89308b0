package services

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
	apperrors "github.com/zatekoja/therapybooking/pkg/errors"
)

// PaymentService selects a payment strategy by method. The registered
// strategies define the set of accepted payment methods.
type PaymentService struct {
	strategies map[entities.PaymentMethod]providers.PaymentProvider
	logger     zerolog.Logger
}

// NewPaymentService creates a payment service with the given strategies
func NewPaymentService(logger zerolog.Logger, strategies ...providers.PaymentProvider) *PaymentService {
	s := &PaymentService{
		strategies: make(map[entities.PaymentMethod]providers.PaymentProvider, len(strategies)),
		logger:     logger.With().Str("component", "payment_service").Logger(),
	}
	for _, strategy := range strategies {
		s.strategies[strategy.Method()] = strategy
	}
	return s
}

// Supports reports whether method has a registered strategy
func (s *PaymentService) Supports(method entities.PaymentMethod) bool {
	_, ok := s.strategies[method]
	return ok
}

// Methods lists the accepted payment methods
func (s *PaymentService) Methods() []entities.PaymentMethod {
	methods := make([]entities.PaymentMethod, 0, len(s.strategies))
	for method := range s.strategies {
		methods = append(methods, method)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

// Charge collects the booking amount with the booking's payment method
func (s *PaymentService) Charge(ctx context.Context, booking *entities.Booking) (*entities.PaymentResult, error) {
	strategy, ok := s.strategies[booking.PaymentMethod]
	if !ok {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidPaymentMethod,
			"unsupported payment method "+string(booking.PaymentMethod))
	}

	result, err := strategy.Charge(ctx, entities.PaymentRequest{
		BookingID:   booking.ID,
		PatientID:   booking.PatientID,
		Method:      booking.PaymentMethod,
		AmountCents: booking.AmountCents,
		Currency:    booking.Currency,
	})
	if err != nil {
		return nil, apperrors.NewExternalError("payment failed", err)
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("method", string(booking.PaymentMethod)).
		Str("transaction_id", result.TransactionID).
		Msg("payment processed")
	return result, nil
}

// Refund reverses the booking's recorded transaction
func (s *PaymentService) Refund(ctx context.Context, booking *entities.Booking) (string, error) {
	if booking.TransactionID == nil || *booking.TransactionID == "" {
		return "", apperrors.NewConflictError(apperrors.CodeInvalidState, "booking has no transaction to refund")
	}
	strategy, ok := s.strategies[booking.PaymentMethod]
	if !ok {
		return "", apperrors.New(apperrors.ErrorTypeValidation, apperrors.CodeInvalidPaymentMethod,
			"unsupported payment method "+string(booking.PaymentMethod))
	}

	refundID, err := strategy.Refund(ctx, *booking.TransactionID, booking.AmountCents)
	if err != nil {
		return "", apperrors.NewExternalError("refund failed", err)
	}
	return refundID, nil
}
