package providers

import (
	"context"

	"github.com/zatekoja/therapybooking/internal/domain/entities"
)

// NotificationHandler is a delivery collaborator registered with the
// dispatcher. Implementations must be comparable (pointer receivers) so that
// registration can be deduplicated.
type NotificationHandler interface {
	// Name identifies the handler in logs and metrics
	Name() string

	// Deliver sends the event and returns a receipt, or an error
	Deliver(ctx context.Context, event *entities.Event) (*entities.DeliveryReceipt, error)
}
