package httpapi

import (
	"context"
	"net/http"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type NotificationService interface {
	Enqueue(ctx context.Context, in services.NotificationInput) (models.Notification, error)
	MarkRead(ctx context.Context, id, actorID int64) (models.Notification, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	ListUnread(ctx context.Context, userID int64) ([]models.Notification, error)
	List(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID int64) (int, error)
}

type NotificationsAPI struct {
	Notifications NotificationService
	Hub           *services.NotificationHub
	Health        HealthFunc
}

type NotificationList struct {
	Items []models.Notification `json:"items"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type UpdatedResponse struct {
	Updated int64 `json:"updated"`
}

func (a *NotificationsAPI) Router() http.Handler {
	r := newRouter(a.Health)
	r.Post("/internal/notifications", a.Enqueue)
	r.Route("/notifications", func(notes chi.Router) {
		notes.Use(WithActor)
		notes.Get("/", a.List)
		notes.Get("/unread", a.Unread)
		notes.Get("/unread/count", a.UnreadCount)
		notes.Post("/read-all", a.MarkAllRead)
		notes.Post("/{id}/read", a.MarkRead)
		notes.Get("/stream", a.Stream)
	})
	return r
}

func (a *NotificationsAPI) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req services.NotificationInput
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := a.Notifications.Enqueue(r.Context(), req)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, n)
}

func (a *NotificationsAPI) List(w http.ResponseWriter, r *http.Request) {
	items, err := a.Notifications.List(r.Context(), CurrentActor(r).ID, parseInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, NotificationList{Items: items})
}

func (a *NotificationsAPI) Unread(w http.ResponseWriter, r *http.Request) {
	items, err := a.Notifications.ListUnread(r.Context(), CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, NotificationList{Items: items})
}

func (a *NotificationsAPI) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.Notifications.CountUnread(r.Context(), CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, CountResponse{Count: count})
}

func (a *NotificationsAPI) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	n, err := a.Notifications.MarkRead(r.Context(), id, CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, n)
}

func (a *NotificationsAPI) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	updated, err := a.Notifications.MarkAllRead(r.Context(), CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, UpdatedResponse{Updated: updated})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream keeps a websocket open and pushes the actor's new notifications as
// they are stored. Incoming messages are read and discarded.
func (a *NotificationsAPI) Stream(w http.ResponseWriter, r *http.Request) {
	if a.Hub == nil {
		WriteKind(w, services.KindServiceUnavailable, "Live notifications are disabled")
		return
	}
	actor := CurrentActor(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	a.Hub.Add(actor.ID, conn)
	defer func() {
		a.Hub.Remove(actor.ID, conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
