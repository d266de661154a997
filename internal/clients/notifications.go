package clients

import (
	"context"
	"net/http"
	"time"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"
)

// Notifications enqueues into the notification service. Enqueue carries a
// dedupe key, so it is retried like a read.
type Notifications struct {
	Client
}

func NewNotifications(baseURL string, attempts int, backoff time.Duration) *Notifications {
	return &Notifications{Client: New(baseURL, attempts, backoff)}
}

func (n *Notifications) Enqueue(ctx context.Context, in services.NotificationInput) (models.Notification, error) {
	var out models.Notification
	err := n.do(ctx, http.MethodPost, "/internal/notifications", in, &out, in.DedupeKey != "")
	return out, err
}

var _ services.Notifier = (*Notifications)(nil)
