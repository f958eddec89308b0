package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
	redisclient "github.com/zatekoja/therapybooking/internal/infrastructure/clients/redis"
)

// ErrNoEmail is returned when the recipient has no email address on file
var ErrNoEmail = errors.New("recipient has no email address")

// EmailJob is the payload pushed to the email queue. A mail worker pops jobs
// with BRPOP and sends them over SMTP.
type EmailJob struct {
	EventID string    `json:"event_id"`
	To      string    `json:"to"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

// EmailQueueNotifier hands emails to a Redis list
type EmailQueueNotifier struct {
	client *redisclient.Client
	queue  string
	logger zerolog.Logger
}

func NewEmailQueueNotifier(client *redisclient.Client, queue string, logger zerolog.Logger) *EmailQueueNotifier {
	return &EmailQueueNotifier{
		client: client,
		queue:  queue,
		logger: logger.With().Str("handler", "email_queue").Logger(),
	}
}

var _ providers.NotificationHandler = (*EmailQueueNotifier)(nil)

func (n *EmailQueueNotifier) Name() string { return "email_queue" }

// Deliver queues the event. The receipt means queued, not sent.
func (n *EmailQueueNotifier) Deliver(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error) {
	if event.Recipient.Email == "" {
		return nil, ErrNoEmail
	}

	subject := event.Subject
	if subject == "" {
		subject = string(event.Type)
	}
	job := EmailJob{
		EventID: event.ID,
		To:      event.Recipient.Email,
		Name:    event.Recipient.Name,
		Subject: subject,
		Body:    event.Content,
		Created: time.Now().UTC(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email job: %w", err)
	}

	if err := n.client.Client().LPush(ctx, n.queue, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to queue email to %s: %w", job.To, err)
	}

	n.logger.Info().Str("event_id", event.ID).Str("subject", subject).Msg("email queued")
	return &entities.DeliveryReceipt{
		Handler:     n.Name(),
		Channel:     entities.ChannelEmail,
		MessageID:   event.ID,
		DeliveredAt: job.Created,
	}, nil
}
