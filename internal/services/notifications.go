package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"tutorias-backend-go/internal/models"

	"github.com/jmoiron/sqlx"
)

type NotificationInput struct {
	RecipientID int64          `json:"recipientId"`
	Kind        string         `json:"kind,omitempty"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	DedupeKey   string         `json:"dedupeKey,omitempty"`
}

// EventPublisher fans stored notifications out to other systems.
type EventPublisher interface {
	PublishNotification(ctx context.Context, n models.Notification) error
}

type NotificationStore struct {
	DB     *sqlx.DB
	Hub    *NotificationHub
	Events EventPublisher
}

func NewNotificationStore(db *sqlx.DB, hub *NotificationHub, events EventPublisher) *NotificationStore {
	return &NotificationStore{DB: db, Hub: hub, Events: events}
}

const notificationColumns = `id, recipient_id, kind, message, data, read_flag, dedupe_key, created_at`

// Enqueue stores a notification for an existing user. When DedupeKey is set
// and a notification with that key already exists, the existing one is
// returned and nothing new is stored or delivered.
func (s *NotificationStore) Enqueue(ctx context.Context, in NotificationInput) (models.Notification, error) {
	message := strings.TrimSpace(in.Message)
	if in.RecipientID <= 0 || message == "" {
		return models.Notification{}, ErrBadRequest("recipient and message are required")
	}
	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		kind = "general"
	}
	data := []byte("{}")
	if len(in.Data) > 0 {
		encoded, err := json.Marshal(in.Data)
		if err != nil {
			return models.Notification{}, ErrBadRequest("data must be a JSON object")
		}
		data = encoded
	}
	var dedupe *string
	if key := strings.TrimSpace(in.DedupeKey); key != "" {
		dedupe = &key
	}

	var n models.Notification
	err := s.DB.GetContext(ctx, &n, `
INSERT INTO notifications (recipient_id, kind, message, data, dedupe_key)
VALUES ($1,$2,$3,$4::jsonb,$5)
ON CONFLICT ON CONSTRAINT notifications_dedupe_key DO NOTHING
RETURNING `+notificationColumns,
		in.RecipientID, kind, message, string(data), dedupe)
	if errors.Is(err, sql.ErrNoRows) && dedupe != nil {
		err = s.DB.GetContext(ctx, &n, `SELECT `+notificationColumns+` FROM notifications WHERE dedupe_key = $1`, *dedupe)
		return n, err
	}
	if err != nil {
		return models.Notification{}, translatePgError(err)
	}
	s.deliver(ctx, n)
	return n, nil
}

func (s *NotificationStore) deliver(ctx context.Context, n models.Notification) {
	if s.Hub != nil {
		s.Hub.Broadcast(n)
	}
	if s.Events != nil {
		if err := s.Events.PublishNotification(ctx, n); err != nil {
			log.Printf("publish notification %d: %v", n.ID, err)
		}
	}
}

func (s *NotificationStore) Get(ctx context.Context, id int64) (models.Notification, error) {
	var n models.Notification
	err := s.DB.GetContext(ctx, &n, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotFound("notification not found")
	}
	return n, err
}

// MarkRead flips the read flag. Only the recipient may do so.
func (s *NotificationStore) MarkRead(ctx context.Context, id, actorID int64) (models.Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return models.Notification{}, err
	}
	if n.RecipientID != actorID {
		return models.Notification{}, ErrForbidden("notification belongs to another user")
	}
	if n.Read {
		return n, nil
	}
	err = s.DB.GetContext(ctx, &n, `
UPDATE notifications SET read_flag = TRUE
WHERE id = $1 AND recipient_id = $2
RETURNING `+notificationColumns, id, actorID)
	return n, err
}

// MarkAllRead marks every unread notification of userID and returns how many
// changed.
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE notifications SET read_flag = TRUE WHERE recipient_id = $1 AND read_flag = FALSE`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListUnread returns unread notifications oldest first.
func (s *NotificationStore) ListUnread(ctx context.Context, userID int64) ([]models.Notification, error) {
	items := []models.Notification{}
	err := s.DB.SelectContext(ctx, &items, `
SELECT `+notificationColumns+`
FROM notifications
WHERE recipient_id = $1 AND read_flag = FALSE
ORDER BY created_at, id
`, userID)
	return items, err
}

// List returns the newest notifications first, read or not.
func (s *NotificationStore) List(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items := []models.Notification{}
	err := s.DB.SelectContext(ctx, &items, `
SELECT `+notificationColumns+`
FROM notifications
WHERE recipient_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	return items, err
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read_flag = FALSE`, userID)
	return count, err
}
