package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/repositories"
)

// bookingEvents renders booking lifecycle events for both participants and
// hands them to the dispatcher in the background.
type bookingEvents struct {
	dispatcher *NotificationDispatcher
	accounts   repositories.AccountRepository
	loc        *time.Location
	logger     zerolog.Logger
}

type eventMessage struct {
	subject string
	content string
}

func (e *bookingEvents) emit(ctx context.Context, eventType entities.EventType, booking *entities.Booking, slot *entities.Slot, extra map[string]interface{}) {
	if e.dispatcher == nil || booking == nil {
		return
	}
	if e.dispatcher.HandlerCount(eventType) == 0 {
		return
	}

	b := booking.Clone()
	e.dispatcher.Go(ctx, func(ctx context.Context) {
		for _, accountID := range []string{b.PatientID, b.ProviderID} {
			recipient := e.resolve(ctx, accountID)
			msg := e.render(eventType, b, slot, recipient)

			builder := entities.NewEventBuilder(eventType).
				WithRecipient(recipient).
				WithSubject(msg.subject).
				WithContent(msg.content).
				WithData("booking_id", b.ID).
				WithData("slot_id", b.SlotID).
				WithData("status", string(b.Status)).
				WithData("payment_status", string(b.PaymentStatus))
			if slot != nil {
				builder.WithData("start", slot.Start.Format(time.RFC3339)).
					WithData("end", slot.End.Format(time.RFC3339))
			}
			for k, v := range extra {
				builder.WithData(k, v)
			}

			event, err := builder.Build()
			if err != nil {
				e.logger.Warn().Err(err).Str("event_type", string(eventType)).Str("booking_id", b.ID).Msg("invalid event dropped")
				continue
			}
			e.dispatcher.Publish(ctx, event)
		}
	})
}

func (e *bookingEvents) resolve(ctx context.Context, accountID string) entities.Recipient {
	recipient := entities.Recipient{AccountID: accountID}
	if e.accounts == nil {
		return recipient
	}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		e.logger.Debug().Err(err).Str("account_id", accountID).Msg("recipient lookup failed, using account id only")
		return recipient
	}
	recipient.Name = account.Name
	recipient.Email = account.Email
	recipient.Phone = account.Phone
	return recipient
}

func (e *bookingEvents) render(eventType entities.EventType, b *entities.Booking, slot *entities.Slot, recipient entities.Recipient) eventMessage {
	when := "your session"
	if slot != nil {
		when = "the session on " + slot.Start.In(e.loc).Format("Monday, January 2, 2006 at 3:04 PM MST")
	}
	greeting := "Hello"
	if recipient.Name != "" {
		greeting = "Hello " + recipient.Name
	}

	switch eventType {
	case entities.EventBookingCreated:
		return eventMessage{"Booking confirmed", fmt.Sprintf("%s, booking %s for %s is confirmed.", greeting, b.ID, when)}
	case entities.EventBookingConfirmed:
		return eventMessage{"Booking approved", fmt.Sprintf("%s, booking %s for %s has been approved.", greeting, b.ID, when)}
	case entities.EventBookingCancelled:
		reason := ""
		if b.CancellationReason != nil && *b.CancellationReason != "" {
			reason = " Reason: " + *b.CancellationReason
		}
		return eventMessage{"Booking cancelled", fmt.Sprintf("%s, booking %s for %s was cancelled.%s", greeting, b.ID, when, reason)}
	case entities.EventBookingReminder:
		return eventMessage{"Session reminder", fmt.Sprintf("%s, this is a reminder for %s.", greeting, when)}
	case entities.EventPaymentReceived:
		return eventMessage{"Payment received", fmt.Sprintf("%s, we received %s for booking %s.", greeting, formatAmount(b.AmountCents, b.Currency), b.ID)}
	case entities.EventPaymentFailed:
		return eventMessage{"Payment failed", fmt.Sprintf("%s, the payment of %s for booking %s failed.", greeting, formatAmount(b.AmountCents, b.Currency), b.ID)}
	}
	return eventMessage{string(eventType), fmt.Sprintf("%s, booking %s was updated.", greeting, b.ID)}
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
