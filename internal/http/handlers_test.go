package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAppointments struct {
	published  []int64
	reserveErr error
	lastActor  int64
}

func (f *fakeAppointments) Publish(ctx context.Context, tutorID int64, date, clock string, note *string) (models.Appointment, error) {
	f.published = append(f.published, tutorID)
	return models.Appointment{ID: 7, TutorID: tutorID, Date: date, Time: clock, Status: models.StatusAvailable, Version: 1}, nil
}

func (f *fakeAppointments) Get(ctx context.Context, id int64) (models.Appointment, error) {
	if id != 7 {
		return models.Appointment{}, services.ErrNotFound("appointment not found")
	}
	return models.Appointment{ID: 7, TutorID: 1, Status: models.StatusAvailable}, nil
}

func (f *fakeAppointments) Reserve(ctx context.Context, id, studentID int64) (models.Appointment, error) {
	f.lastActor = studentID
	if f.reserveErr != nil {
		return models.Appointment{}, f.reserveErr
	}
	return models.Appointment{ID: id, TutorID: 1, StudentID: &studentID, Status: models.StatusReserved, Version: 2}, nil
}

func (f *fakeAppointments) Cancel(ctx context.Context, id, actorID int64) (models.Appointment, error) {
	f.lastActor = actorID
	return models.Appointment{ID: id, TutorID: 1, Status: models.StatusAvailable, Version: 3}, nil
}

func (f *fakeAppointments) Complete(ctx context.Context, id, actorID int64) (models.Appointment, error) {
	return models.Appointment{}, services.ErrInvalidState("appointment has not started yet")
}

func (f *fakeAppointments) List(ctx context.Context, filter services.AppointmentFilter) ([]models.Appointment, error) {
	return []models.Appointment{{ID: 7, TutorID: filter.TutorID, Status: filter.Status}}, nil
}

func (f *fakeAppointments) ListForUser(ctx context.Context, userID int64) ([]models.Appointment, error) {
	return []models.Appointment{}, nil
}

func (f *fakeAppointments) Agenda(ctx context.Context, tutorID int64) ([]models.Appointment, error) {
	return []models.Appointment{}, nil
}

func do(t *testing.T, h http.Handler, method, path string, body string, actor int64, role models.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor > 0 {
		req.Header.Set(HeaderActorID, strconv.FormatInt(actor, 10))
		req.Header.Set(HeaderActorRole, string(role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAppointmentsRequireActor(t *testing.T) {
	api := &AppointmentsAPI{Appointments: &fakeAppointments{}}
	rec := do(t, api.Router(), http.MethodGet, "/appointments", "", 0, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec).Kind)
}

func TestPublishUsesActorAsTutor(t *testing.T) {
	fake := &fakeAppointments{}
	api := &AppointmentsAPI{Appointments: fake}

	rec := do(t, api.Router(), http.MethodPost, "/appointments", `{"date":"2025-03-01","time":"10:00"}`, 1, models.RoleTutor)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []int64{1}, fake.published)

	rec = do(t, api.Router(), http.MethodPost, "/appointments", `{"date":"2025-03-01","time":"10:00"}`, 2, models.RoleStudent)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidRole", decodeError(t, rec).Kind)
}

func TestReservePropagatesKind(t *testing.T) {
	fake := &fakeAppointments{reserveErr: services.ErrInvalidState("appointment is reserved, not available")}
	api := &AppointmentsAPI{Appointments: fake}

	rec := do(t, api.Router(), http.MethodPost, "/appointments/7/reserve", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "InvalidState", body.Kind)
	assert.Equal(t, "appointment is reserved, not available", body.Message)
	assert.Equal(t, int64(2), fake.lastActor)
}

func TestCancelAndGet(t *testing.T) {
	fake := &fakeAppointments{}
	api := &AppointmentsAPI{Appointments: fake}

	rec := do(t, api.Router(), http.MethodPost, "/appointments/7/cancel", "", 2, models.RoleStudent)
	require.Equal(t, http.StatusOK, rec.Code)
	var appt models.Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appt))
	assert.Equal(t, models.StatusAvailable, appt.Status)
	assert.Nil(t, appt.StudentID)

	rec = do(t, api.Router(), http.MethodGet, "/appointments/8", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, api.Router(), http.MethodGet, "/appointments/abc", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	api := &AppointmentsAPI{Appointments: &fakeAppointments{}}
	rec := do(t, api.Router(), http.MethodGet, "/appointments?status=pendiente", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api.Router(), http.MethodGet, "/appointments?status=reserved&tutorId=1", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"reserved"`)
}

func TestCompleteTooEarly(t *testing.T) {
	api := &AppointmentsAPI{Appointments: &fakeAppointments{}}
	rec := do(t, api.Router(), http.MethodPost, "/appointments/7/complete", "", 1, models.RoleTutor)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type fakeUsers struct {
	created []services.NewUser
}

func (f *fakeUsers) Create(ctx context.Context, in services.NewUser) (models.User, error) {
	if in.Username == "tutor1" {
		return models.User{}, services.NewError(services.KindDuplicateIdentity, "username already registered")
	}
	f.created = append(f.created, in)
	return models.User{ID: 10, Username: in.Username, Role: in.Role, PasswordHash: "secret-hash"}, nil
}

func (f *fakeUsers) FindByID(ctx context.Context, id int64) (models.User, error) {
	if id == 1 {
		return models.User{ID: 1, Username: "tutor1", Role: models.RoleTutor}, nil
	}
	return models.User{}, services.ErrNotFound("user not found")
}

func (f *fakeUsers) FindByUsername(ctx context.Context, username string) (models.User, error) {
	if username == "tutor1" {
		return models.User{ID: 1, Username: "tutor1", Role: models.RoleTutor}, nil
	}
	return models.User{}, services.ErrNotFound("user not found")
}

func (f *fakeUsers) VerifyCredential(ctx context.Context, username, password string) (models.User, bool, error) {
	if username == "tutor1" && password == "tutor123" {
		return models.User{ID: 1, Username: "tutor1", Role: models.RoleTutor}, true, nil
	}
	return models.User{}, false, nil
}

func (f *fakeUsers) ListByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	return []models.User{{ID: 1, Username: "tutor1", Role: role}}, nil
}

func TestUsersAPI(t *testing.T) {
	fake := &fakeUsers{}
	h := (&UsersAPI{Users: fake}).Router()

	rec := do(t, h, http.MethodPost, "/users", `{"username":"ana","email":"ana@x.io","password":"secret1","role":"student"}`, 0, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-hash")

	rec = do(t, h, http.MethodPost, "/users", `{"username":"tutor1","email":"t@x.io","password":"secret1","role":"tutor"}`, 0, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DuplicateIdentity", decodeError(t, rec).Kind)

	rec = do(t, h, http.MethodPost, "/users", `{"username":"x","role":"admin"}`, 0, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/users/by-username/tutor1", "", 0, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/users/2", "", 0, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/users?role=tutor", "", 0, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/users", "", 0, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/credentials/verify", `{"username":"tutor1","password":"tutor123"}`, 0, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var verified CredentialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.True(t, verified.Valid)
	require.NotNil(t, verified.User)
	assert.Equal(t, models.RoleTutor, verified.User.Role)

	rec = do(t, h, http.MethodPost, "/credentials/verify", `{"username":"tutor1","password":"nope"}`, 0, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":false}`, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	h := (&UsersAPI{Users: &fakeUsers{}, Health: func(r *http.Request) services.HealthReport {
		return services.HealthReport{Service: "users", Status: "degraded"}
	}}).Router()
	rec := do(t, h, http.MethodGet, "/health", "", 0, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

type fakeNotifications struct {
	enqueued []services.NotificationInput
}

func (f *fakeNotifications) Enqueue(ctx context.Context, in services.NotificationInput) (models.Notification, error) {
	f.enqueued = append(f.enqueued, in)
	return models.Notification{ID: 1, RecipientID: in.RecipientID, Message: in.Message}, nil
}

func (f *fakeNotifications) MarkRead(ctx context.Context, id, actorID int64) (models.Notification, error) {
	if actorID != 1 {
		return models.Notification{}, services.ErrForbidden("notification belongs to another user")
	}
	return models.Notification{ID: id, RecipientID: 1, Read: true}, nil
}

func (f *fakeNotifications) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return 3, nil
}

func (f *fakeNotifications) ListUnread(ctx context.Context, userID int64) ([]models.Notification, error) {
	return []models.Notification{{ID: 1, RecipientID: userID}}, nil
}

func (f *fakeNotifications) List(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	return []models.Notification{}, nil
}

func (f *fakeNotifications) CountUnread(ctx context.Context, userID int64) (int, error) {
	return 4, nil
}

func TestNotificationsAPI(t *testing.T) {
	fake := &fakeNotifications{}
	h := (&NotificationsAPI{Notifications: fake}).Router()

	rec := do(t, h, http.MethodPost, "/internal/notifications", `{"recipientId":1,"message":"hola","dedupeKey":"k"}`, 0, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, fake.enqueued, 1)
	assert.Equal(t, "k", fake.enqueued[0].DedupeKey)

	rec = do(t, h, http.MethodPost, "/notifications/5/read", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", decodeError(t, rec).Kind)

	rec = do(t, h, http.MethodPost, "/notifications/5/read", "", 1, models.RoleTutor)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/notifications/unread/count", "", 1, models.RoleTutor)
	assert.JSONEq(t, `{"count":4}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/notifications/read-all", "", 1, models.RoleTutor)
	assert.JSONEq(t, `{"updated":3}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/notifications/unread", "", 0, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNotificationStreamPushesToRecipient(t *testing.T) {
	hub := services.NewNotificationHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer((&NotificationsAPI{Notifications: &fakeNotifications{}, Hub: hub}).Router())
	defer srv.Close()

	header := http.Header{}
	header.Set(HeaderActorID, "1")
	header.Set(HeaderActorRole, "tutor")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/notifications/stream", header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connected(1) == 1 }, time.Second, 10*time.Millisecond)
	hub.Broadcast(models.Notification{ID: 99, RecipientID: 2, Message: "not yours"})
	hub.Broadcast(models.Notification{ID: 100, RecipientID: 1, Message: "hola"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, int64(100), got.ID)
}

type fakeFiles struct {
	stored     []string
	sharedWith int64
}

func (f *fakeFiles) Upload(ctx context.Context, in services.FileInput) (models.File, error) {
	if in.Path == "taken" {
		return models.File{}, services.NewError(services.KindDuplicatePath, "storage path already in use")
	}
	return models.File{ID: 1, Name: in.Name, Path: in.Path, OwnerID: in.OwnerID}, nil
}

func (f *fakeFiles) Store(ctx context.Context, ownerID int64, filename, contentType string, body io.Reader, sharedWith int64) (models.File, error) {
	data, _ := io.ReadAll(body)
	f.stored = append(f.stored, filename+":"+string(data))
	f.sharedWith = sharedWith
	return models.File{ID: 2, Name: filename, OwnerID: ownerID, Size: int64(len(data))}, nil
}

func (f *fakeFiles) Get(ctx context.Context, id int64) (models.File, error) {
	return models.File{ID: id, OwnerID: 1}, nil
}

func (f *fakeFiles) ListByOwner(ctx context.Context, ownerID int64) ([]models.File, error) {
	return []models.File{}, nil
}

func (f *fakeFiles) Open(ctx context.Context, id, actorID int64) (models.File, *os.File, error) {
	return models.File{}, nil, services.ErrForbidden("file belongs to another user")
}

func TestFilesAPI(t *testing.T) {
	fake := &fakeFiles{}
	h := (&FilesAPI{Files: fake, MaxUploadBytes: 1 << 20}).Router()

	rec := do(t, h, http.MethodPost, "/files/metadata", `{"name":"a.pdf","path":"taken","type":"application/pdf","size":3}`, 1, models.RoleStudent)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DuplicatePath", decodeError(t, rec).Kind)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "tarea.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF"))
	require.NoError(t, mw.WriteField("sharedWith", "1"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderActorID, "2")
	req.Header.Set(HeaderActorRole, "student")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"tarea.pdf:%PDF"}, fake.stored)
	assert.Equal(t, int64(1), fake.sharedWith)

	rec = do(t, h, http.MethodGet, "/files/9", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodGet, "/files/9/content", "", 2, models.RoleStudent)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
