package notifications

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
	"github.com/zatekoja/therapybooking/internal/domain/providers"
	redisclient "github.com/zatekoja/therapybooking/internal/infrastructure/clients/redis"
	"github.com/zatekoja/therapybooking/pkg/config"
)

// Factory builds delivery handlers by channel name
type Factory struct {
	cfg    config.NotificationConfig
	redis  *redisclient.Client
	logger zerolog.Logger
}

// NewFactory creates a factory. redis may be nil, in which case email
// falls back to the log notifier.
func NewFactory(cfg config.NotificationConfig, redis *redisclient.Client, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, redis: redis, logger: logger}
}

// Build returns the handler for channel
func (f *Factory) Build(channel entities.NotificationChannel) (providers.NotificationHandler, error) {
	switch channel {
	case entities.ChannelEmail:
		if f.redis == nil {
			return NewLogNotifier(channel, f.logger), nil
		}
		return NewEmailQueueNotifier(f.redis, f.cfg.EmailQueueKey, f.logger), nil
	case entities.ChannelSMS, entities.ChannelWhatsApp:
		if f.cfg.WhatsAppAccessToken == "" || f.cfg.WhatsAppPhoneNumberID == "" {
			f.logger.Warn().Str("channel", string(channel)).Msg("whatsapp credentials missing, falling back to log notifier")
			return NewLogNotifier(channel, f.logger), nil
		}
		return NewWhatsAppNotifier(f.cfg.WhatsAppAccessToken, f.cfg.WhatsAppPhoneNumberID, channel, f.logger)
	case entities.ChannelPush:
		return NewLogNotifier(channel, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown notification channel %q", channel)
	}
}

// BuildAll builds one handler per channel, in order
func (f *Factory) BuildAll(channels ...entities.NotificationChannel) ([]providers.NotificationHandler, error) {
	handlers := make([]providers.NotificationHandler, 0, len(channels))
	for _, channel := range channels {
		h, err := f.Build(channel)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}
