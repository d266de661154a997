package services_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"tutorias-backend-go/internal/db"
	"tutorias-backend-go/internal/migrations"
	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"

	"github.com/Pallinder/go-randomdata"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	_ = godotenv.Load("../../.env")
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	database, err := db.Open(ctx, dsn, 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, migrations.Apply(ctx, database, migrations.Schema()))
	return database
}

func createUser(t *testing.T, dir *services.UserDirectory, role models.Role) models.User {
	t.Helper()
	name := strings.ToLower(randomdata.SillyName()) + "-" + uuid.NewString()[:8]
	user, err := dir.Create(context.Background(), services.NewUser{
		Username:   name,
		Email:      name + "@test.local",
		Password:   "secret123",
		Role:       role,
		GivenName:  randomdata.FirstName(randomdata.RandomGender),
		FamilyName: randomdata.LastName(),
	})
	require.NoError(t, err)
	return user
}

type stores struct {
	users         *services.UserDirectory
	appointments  *services.AppointmentStore
	notifications *services.NotificationStore
	files         *services.FileStore
}

func newStores(t *testing.T, now time.Time) stores {
	database := setupDB(t)
	users := services.NewUserDirectory(database)
	notes := services.NewNotificationStore(database, nil, nil)
	appts := services.NewAppointmentStore(database, users, notes, time.UTC)
	appts.Now = func() time.Time { return now }
	files := services.NewFileStore(database, t.TempDir(), []string{".pdf", ".zip"}, 1<<20, notes)
	return stores{users: users, appointments: appts, notifications: notes, files: files}
}

func TestUserDirectoryUniqueIdentity(t *testing.T) {
	s := newStores(t, time.Now())
	ctx := context.Background()
	user := createUser(t, s.users, models.RoleStudent)

	_, err := s.users.Create(ctx, services.NewUser{Username: user.Username, Email: "other-" + user.Email, Password: "secret123", Role: models.RoleStudent})
	assert.Equal(t, services.KindDuplicateIdentity, services.KindOf(err))
	_, err = s.users.Create(ctx, services.NewUser{Username: user.Username + "x", Email: user.Email, Password: "secret123", Role: models.RoleStudent})
	assert.Equal(t, services.KindDuplicateIdentity, services.KindOf(err))

	found, ok, err := s.users.VerifyCredential(ctx, user.Username, "secret123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, user.ID, found.ID)

	_, ok, err = s.users.VerifyCredential(ctx, user.Username, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.users.VerifyCredential(ctx, "nobody-"+uuid.NewString(), "secret123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublishReserveCancelScenario(t *testing.T) {
	s := newStores(t, time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()
	tutor := createUser(t, s.users, models.RoleTutor)
	student := createUser(t, s.users, models.RoleStudent)

	appt, err := s.appointments.Publish(ctx, tutor.ID, "2025-03-01", "10:00", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, appt.Status)
	assert.Nil(t, appt.StudentID)

	_, err = s.appointments.Publish(ctx, tutor.ID, "2025-03-01", "10:00", nil)
	assert.Equal(t, services.KindSlotConflict, services.KindOf(err))

	_, err = s.appointments.Publish(ctx, student.ID, "2025-03-01", "11:00", nil)
	assert.Equal(t, services.KindInvalidRole, services.KindOf(err))

	reserved, err := s.appointments.Reserve(ctx, appt.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, reserved.Status)
	require.NotNil(t, reserved.StudentID)
	assert.Equal(t, student.ID, *reserved.StudentID)

	unread, err := s.notifications.ListUnread(ctx, tutor.ID)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "appointment_reserved", unread[0].Kind)

	released, err := s.appointments.Cancel(ctx, appt.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, released.Status)
	assert.Nil(t, released.StudentID)

	again, err := s.appointments.Reserve(ctx, appt.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, again.Status)

	cancelled, err := s.appointments.Cancel(ctx, appt.ID, tutor.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	_, err = s.appointments.Cancel(ctx, appt.ID, tutor.ID)
	assert.Equal(t, services.KindInvalidState, services.KindOf(err))

	_, err = s.appointments.Reserve(ctx, 1<<40, student.ID)
	assert.Equal(t, services.KindNotFound, services.KindOf(err))
	assertLiveStatesMatchStudent(t, s)
}

// assertLiveStatesMatchStudent checks that an available slot never has a
// student and a reserved one always does. Terminal rows keep theirs.
func assertLiveStatesMatchStudent(t *testing.T, s stores) {
	t.Helper()
	var broken int
	require.NoError(t, s.appointments.DB.GetContext(context.Background(), &broken, `
SELECT COUNT(*) FROM appointments
WHERE (status = 'available' AND student_id IS NOT NULL)
   OR (status = 'reserved' AND student_id IS NULL)`))
	assert.Zero(t, broken)
}

func TestConcurrentReserveHasOneWinner(t *testing.T) {
	s := newStores(t, time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()
	tutor := createUser(t, s.users, models.RoleTutor)
	first := createUser(t, s.users, models.RoleStudent)
	second := createUser(t, s.users, models.RoleStudent)

	appt, err := s.appointments.Publish(ctx, tutor.ID, "2025-03-01", "12:00", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, student := range []models.User{first, second} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = s.appointments.Reserve(ctx, appt.ID, id)
		}(i, student.ID)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case services.KindOf(err) == services.KindInvalidState:
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	final, err := s.appointments.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, final.Status)
	require.NotNil(t, final.StudentID)
	assertLiveStatesMatchStudent(t, s)

	unread, err := s.notifications.ListUnread(ctx, tutor.ID)
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestCompleteElapsed(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	s := newStores(t, now)
	ctx := context.Background()
	tutor := createUser(t, s.users, models.RoleTutor)
	student := createUser(t, s.users, models.RoleStudent)

	past, err := s.appointments.Publish(ctx, tutor.ID, "2025-03-01", "10:00", nil)
	require.NoError(t, err)
	future, err := s.appointments.Publish(ctx, tutor.ID, "2025-03-01", "11:00", nil)
	require.NoError(t, err)
	_, err = s.appointments.Reserve(ctx, past.ID, student.ID)
	require.NoError(t, err)
	_, err = s.appointments.Reserve(ctx, future.ID, student.ID)
	require.NoError(t, err)

	_, err = s.appointments.CompleteElapsed(ctx)
	require.NoError(t, err)

	got, err := s.appointments.Get(ctx, past.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	got, err = s.appointments.Get(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, got.Status)

	_, err = s.appointments.Cancel(ctx, past.ID, tutor.ID)
	assert.Equal(t, services.KindInvalidState, services.KindOf(err))
	assertLiveStatesMatchStudent(t, s)
}

func TestNotificationDedupeAndMarkRead(t *testing.T) {
	s := newStores(t, time.Now())
	ctx := context.Background()
	user := createUser(t, s.users, models.RoleStudent)
	other := createUser(t, s.users, models.RoleStudent)
	key := "test:" + uuid.NewString()

	first, err := s.notifications.Enqueue(ctx, services.NotificationInput{RecipientID: user.ID, Message: "hola", DedupeKey: key})
	require.NoError(t, err)
	second, err := s.notifications.Enqueue(ctx, services.NotificationInput{RecipientID: user.ID, Message: "hola", DedupeKey: key})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = s.notifications.Enqueue(ctx, services.NotificationInput{RecipientID: user.ID, Message: "adios"})
	require.NoError(t, err)

	unread, err := s.notifications.ListUnread(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, first.ID, unread[0].ID, "oldest first")

	_, err = s.notifications.MarkRead(ctx, first.ID, other.ID)
	assert.Equal(t, services.KindForbidden, services.KindOf(err))

	read, err := s.notifications.MarkRead(ctx, first.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	count, err := s.notifications.CountUnread(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.notifications.Enqueue(ctx, services.NotificationInput{RecipientID: 1 << 40, Message: "nadie"})
	assert.Equal(t, services.KindNotFound, services.KindOf(err))
}

func TestFileUploadConstraints(t *testing.T) {
	s := newStores(t, time.Now())
	ctx := context.Background()
	owner := createUser(t, s.users, models.RoleStudent)
	storagePath := "manual/" + uuid.NewString() + ".pdf"

	file, err := s.files.Upload(ctx, services.FileInput{OwnerID: owner.ID, Name: "a.pdf", Path: storagePath, Type: "application/pdf", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, file.OwnerID)

	_, err = s.files.Upload(ctx, services.FileInput{OwnerID: owner.ID, Name: "b.pdf", Path: storagePath, Type: "application/pdf", Size: 10})
	assert.Equal(t, services.KindDuplicatePath, services.KindOf(err))

	_, err = s.files.Upload(ctx, services.FileInput{OwnerID: 1 << 40, Name: "c.pdf", Path: storagePath + "x", Type: "application/pdf", Size: 10})
	assert.Equal(t, services.KindOwnerNotFound, services.KindOf(err))

	_, err = s.files.Store(ctx, 1<<40, "d.pdf", "application/pdf", strings.NewReader("contenido"), 0)
	assert.Equal(t, services.KindOwnerNotFound, services.KindOf(err))
	assert.NoDirExists(t, filepath.Join(s.files.Root, strconv.FormatInt(1<<40, 10)))
}

func TestSeedDemoUsersIsIdempotent(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	_, err := services.SeedDemoUsers(ctx, database)
	require.NoError(t, err)
	inserted, err := services.SeedDemoUsers(ctx, database)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	for _, username := range []string{"tutor1", "estudiante1"} {
		var count int
		require.NoError(t, database.GetContext(ctx, &count, `SELECT COUNT(*) FROM users WHERE username = $1`, username))
		assert.Equal(t, 1, count, username)
	}
}
