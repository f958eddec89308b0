package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
)

// LogNotifier writes events to the log instead of an external provider.
// Used for the push channel and for channels without credentials.
type LogNotifier struct {
	channel entities.NotificationChannel
	logger  zerolog.Logger
}

func NewLogNotifier(channel entities.NotificationChannel, logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		channel: channel,
		logger:  logger.With().Str("handler", "log:"+string(channel)).Logger(),
	}
}

var _ providers.NotificationHandler = (*LogNotifier)(nil)

func (n *LogNotifier) Name() string { return "log:" + string(n.channel) }

func (n *LogNotifier) Deliver(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error) {
	n.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("recipient", event.Recipient.AccountID).
		Str("subject", event.Subject).
		Msg(event.Content)

	return &entities.DeliveryReceipt{
		Handler:     n.Name(),
		Channel:     n.channel,
		MessageID:   event.ID,
		DeliveredAt: time.Now().UTC(),
	}, nil
}
