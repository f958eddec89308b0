package entities

import "time"

// PaymentMethod identifies a payment strategy
type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "creditCard"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodBankTransfer PaymentMethod = "bankTransfer"
)

// PaymentRequest describes a charge against a booking
type PaymentRequest struct {
	BookingID   string
	PatientID   string
	Method      PaymentMethod
	AmountCents int64
	Currency    string
}

// PaymentResult is returned by a payment strategy
type PaymentResult struct {
	TransactionID string        `json:"transaction_id"`
	Method        PaymentMethod `json:"method"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	ProcessedAt   time.Time     `json:"processed_at"`
}
