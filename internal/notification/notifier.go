package notification

import (
	"context"

	"github.com/spendlens/spendlens-api/internal/models"
)

// Notifier delivers a persisted notification to an external channel (webhook,
// chat, email). Delivery failures are logged by the service and never block
// the run that produced the event.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}
