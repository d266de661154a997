package services

import (
	"testing"
	"time"

	"tutorias-backend-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tutorID   int64 = 1
	studentID int64 = 2
	otherID   int64 = 3
)

var testNow = time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)

func available() models.Appointment {
	return models.Appointment{
		ID:      7,
		TutorID: tutorID,
		Date:    "2025-03-01",
		Time:    "10:00",
		Status:  models.StatusAvailable,
		Version: 1,
	}
}

func reserved() models.Appointment {
	a := available()
	s := studentID
	a.StudentID = &s
	a.Status = models.StatusReserved
	a.Version = 2
	return a
}

func act(kind ActionKind, actor int64, role models.Role) Action {
	return Action{Kind: kind, ActorID: actor, ActorRole: role, At: testNow}
}

func TestReserveAvailableSlot(t *testing.T) {
	next, notices, err := Transition(available(), act(ActionReserve, studentID, models.RoleStudent), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, next.Status)
	require.NotNil(t, next.StudentID)
	assert.Equal(t, studentID, *next.StudentID)
	assert.Equal(t, 2, next.Version)

	require.Len(t, notices, 1)
	assert.Equal(t, tutorID, notices[0].RecipientID)
	assert.Equal(t, "appointment:7:v2:reserved:1", DedupeKey(next, notices[0]))
}

func TestReserveFailures(t *testing.T) {
	_, _, err := Transition(reserved(), act(ActionReserve, otherID, models.RoleStudent), time.UTC)
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, _, err = Transition(available(), act(ActionReserve, otherID, models.RoleTutor), time.UTC)
	assert.Equal(t, KindInvalidRole, KindOf(err))

	cancelled := available()
	cancelled.Status = models.StatusCancelled
	_, _, err = Transition(cancelled, act(ActionReserve, studentID, models.RoleStudent), time.UTC)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestCancelByStudentReleasesSlot(t *testing.T) {
	next, notices, err := Transition(reserved(), act(ActionCancel, studentID, models.RoleStudent), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, next.Status)
	assert.Nil(t, next.StudentID)
	require.Len(t, notices, 1)
	assert.Equal(t, tutorID, notices[0].RecipientID)

	again, _, err := Transition(next, act(ActionReserve, otherID, models.RoleStudent), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, again.Status)
	assert.Equal(t, otherID, *again.StudentID)
}

func TestCancelByTutor(t *testing.T) {
	next, notices, err := Transition(reserved(), act(ActionCancel, tutorID, models.RoleTutor), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, next.Status)
	require.NotNil(t, next.StudentID, "student is kept for history")
	require.Len(t, notices, 1)
	assert.Equal(t, studentID, notices[0].RecipientID)

	next, notices, err = Transition(available(), act(ActionCancel, tutorID, models.RoleTutor), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, next.Status)
	assert.Empty(t, notices)
}

func TestCancelFailures(t *testing.T) {
	_, _, err := Transition(reserved(), act(ActionCancel, otherID, models.RoleStudent), time.UTC)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, _, err = Transition(available(), act(ActionCancel, studentID, models.RoleStudent), time.UTC)
	assert.Equal(t, KindForbidden, KindOf(err))

	for _, status := range []models.AppointmentStatus{models.StatusCompleted, models.StatusCancelled} {
		done := reserved()
		done.Status = status
		_, _, err = Transition(done, act(ActionCancel, tutorID, models.RoleTutor), time.UTC)
		assert.Equal(t, KindInvalidState, KindOf(err), status)
		_, _, err = Transition(done, act(ActionCancel, otherID, models.RoleStudent), time.UTC)
		assert.Equal(t, KindInvalidState, KindOf(err), status)
	}
}

func TestCompleteAfterStart(t *testing.T) {
	next, notices, err := Transition(reserved(), act(ActionComplete, SystemActor, ""), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, next.Status)
	require.Len(t, notices, 1)
	assert.Equal(t, studentID, notices[0].RecipientID)

	_, _, err = Transition(reserved(), act(ActionComplete, tutorID, models.RoleTutor), time.UTC)
	assert.NoError(t, err)
}

func TestCompleteFailures(t *testing.T) {
	early := act(ActionComplete, tutorID, models.RoleTutor)
	early.At = time.Date(2025, 3, 1, 9, 59, 0, 0, time.UTC)
	_, _, err := Transition(reserved(), early, time.UTC)
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, _, err = Transition(available(), act(ActionComplete, tutorID, models.RoleTutor), time.UTC)
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, _, err = Transition(reserved(), act(ActionComplete, studentID, models.RoleStudent), time.UTC)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestCompleteUsesConfiguredZone(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	// 09:30 UTC is 10:30 in Madrid, after a 10:00 local start.
	a := act(ActionComplete, SystemActor, "")
	a.At = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	_, _, err = Transition(reserved(), a, madrid)
	assert.NoError(t, err)
	_, _, err = Transition(reserved(), a, time.UTC)
	assert.Equal(t, KindInvalidState, KindOf(err))
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	cur := reserved()
	_, _, err := Transition(cur, act(ActionCancel, studentID, models.RoleStudent), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReserved, cur.Status)
	require.NotNil(t, cur.StudentID)
}

func TestParseSlot(t *testing.T) {
	start, err := ParseSlot("2025-03-01", "10:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), start)

	for _, bad := range [][2]string{{"2025-3-1", "10:00"}, {"2025-02-30", "10:00"}, {"2025-03-01", "25:00"}, {"2025-03-01", "10"}} {
		_, err := ParseSlot(bad[0], bad[1], time.UTC)
		assert.Equal(t, KindBadRequest, KindOf(err), bad)
	}
}
