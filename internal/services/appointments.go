package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"tutorias-backend-go/internal/models"

	"github.com/jmoiron/sqlx"
)

// UserLookup resolves user ids. UserDirectory satisfies it in-process and
// clients.Users over HTTP.
type UserLookup interface {
	FindByID(ctx context.Context, id int64) (models.User, error)
}

// Notifier records a notification. NotificationStore satisfies it in-process
// and clients.Notifications over HTTP.
type Notifier interface {
	Enqueue(ctx context.Context, in NotificationInput) (models.Notification, error)
}

type AppointmentStore struct {
	DB       *sqlx.DB
	Users    UserLookup
	Notifier Notifier
	Location *time.Location
	Now      func() time.Time
}

type AppointmentFilter struct {
	TutorID   int64
	StudentID int64
	Status    models.AppointmentStatus
}

func NewAppointmentStore(db *sqlx.DB, users UserLookup, notifier Notifier, loc *time.Location) *AppointmentStore {
	if loc == nil {
		loc = time.UTC
	}
	return &AppointmentStore{
		DB:       db,
		Users:    users,
		Notifier: notifier,
		Location: loc,
		Now:      time.Now,
	}
}

const appointmentColumns = `id, tutor_id, student_id, slot_date, slot_time, status, note, version, created_at, updated_at`

func (s *AppointmentStore) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *AppointmentStore) Publish(ctx context.Context, tutorID int64, date, clock string, note *string) (models.Appointment, error) {
	if _, err := ParseSlot(date, clock, s.Location); err != nil {
		return models.Appointment{}, err
	}
	tutor, err := s.Users.FindByID(ctx, tutorID)
	if IsKind(err, KindNotFound) {
		return models.Appointment{}, ErrInvalidRole("tutor does not exist")
	}
	if err != nil {
		return models.Appointment{}, err
	}
	if tutor.Role != models.RoleTutor {
		return models.Appointment{}, ErrInvalidRole("only tutors can publish appointments")
	}
	if note != nil {
		trimmed := strings.TrimSpace(*note)
		if trimmed == "" {
			note = nil
		} else {
			note = &trimmed
		}
	}
	now := s.now()
	var appt models.Appointment
	err = s.DB.GetContext(ctx, &appt, `
INSERT INTO appointments (tutor_id, slot_date, slot_time, status, note, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,1,$6,$6)
RETURNING `+appointmentColumns,
		tutorID, date, clock, models.StatusAvailable, note, now)
	if err != nil {
		return models.Appointment{}, translatePgError(err)
	}
	return appt, nil
}

func (s *AppointmentStore) Get(ctx context.Context, id int64) (models.Appointment, error) {
	var appt models.Appointment
	err := s.DB.GetContext(ctx, &appt, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Appointment{}, ErrNotFound("appointment not found")
	}
	return appt, err
}

func (s *AppointmentStore) Reserve(ctx context.Context, id, studentID int64) (models.Appointment, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	student, err := s.Users.FindByID(ctx, studentID)
	if IsKind(err, KindNotFound) {
		return models.Appointment{}, ErrInvalidRole("student does not exist")
	}
	if err != nil {
		return models.Appointment{}, err
	}
	return s.apply(ctx, cur, Action{Kind: ActionReserve, ActorID: studentID, ActorRole: student.Role, At: s.now()})
}

func (s *AppointmentStore) Cancel(ctx context.Context, id, actorID int64) (models.Appointment, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	return s.apply(ctx, cur, Action{Kind: ActionCancel, ActorID: actorID, At: s.now()})
}

// Complete marks a reserved appointment whose start has passed as completed.
// actorID is the owning tutor, or SystemActor for the sweeper.
func (s *AppointmentStore) Complete(ctx context.Context, id, actorID int64) (models.Appointment, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	return s.apply(ctx, cur, Action{Kind: ActionComplete, ActorID: actorID, At: s.now()})
}

// apply persists the transition only if nobody else moved the row since cur
// was read; the loser of a race gets InvalidState. Notifications are sent
// after the commit and never undo it.
func (s *AppointmentStore) apply(ctx context.Context, cur models.Appointment, act Action) (models.Appointment, error) {
	next, notices, err := Transition(cur, act, s.Location)
	if err != nil {
		return models.Appointment{}, err
	}
	var saved models.Appointment
	err = s.DB.GetContext(ctx, &saved, `
UPDATE appointments
SET student_id = $3, status = $4, version = $5, updated_at = $6
WHERE id = $1 AND version = $2
RETURNING `+appointmentColumns,
		cur.ID, cur.Version, next.StudentID, next.Status, next.Version, next.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Appointment{}, ErrInvalidState("appointment was modified concurrently")
	}
	if err != nil {
		return models.Appointment{}, translatePgError(err)
	}
	s.notify(context.WithoutCancel(ctx), saved, notices)
	return saved, nil
}

func (s *AppointmentStore) notify(ctx context.Context, appt models.Appointment, notices []Notice) {
	if s.Notifier == nil {
		return
	}
	for _, n := range notices {
		_, err := s.Notifier.Enqueue(ctx, NotificationInput{
			RecipientID: n.RecipientID,
			Kind:        n.Kind,
			Message:     n.Message,
			Data: map[string]any{
				"appointmentId": appt.ID,
				"status":        appt.Status,
				"date":          appt.Date,
				"time":          appt.Time,
			},
			DedupeKey: DedupeKey(appt, n),
		})
		if err != nil {
			log.Printf("notify appointment %d (%s) recipient %d: %v", appt.ID, n.Label, n.RecipientID, err)
		}
	}
}

func (s *AppointmentStore) List(ctx context.Context, filter AppointmentFilter) ([]models.Appointment, error) {
	where := []string{}
	args := []any{}
	if filter.TutorID > 0 {
		args = append(args, filter.TutorID)
		where = append(where, "tutor_id = $"+strconv.Itoa(len(args)))
	}
	if filter.StudentID > 0 {
		args = append(args, filter.StudentID)
		where = append(where, "student_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, ErrBadRequest("unknown status")
		}
		args = append(args, filter.Status)
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY slot_date, slot_time, id"
	items := []models.Appointment{}
	err := s.DB.SelectContext(ctx, &items, query, args...)
	return items, err
}

// ListForUser returns every appointment the user takes part in, as tutor or
// student, most recent first.
func (s *AppointmentStore) ListForUser(ctx context.Context, userID int64) ([]models.Appointment, error) {
	items := []models.Appointment{}
	err := s.DB.SelectContext(ctx, &items, `
SELECT `+appointmentColumns+`
FROM appointments
WHERE tutor_id = $1 OR student_id = $1
ORDER BY slot_date DESC, slot_time DESC, id DESC
`, userID)
	return items, err
}

// Agenda lists a tutor's reserved sessions in chronological order.
func (s *AppointmentStore) Agenda(ctx context.Context, tutorID int64) ([]models.Appointment, error) {
	items := []models.Appointment{}
	err := s.DB.SelectContext(ctx, &items, `
SELECT `+appointmentColumns+`
FROM appointments
WHERE tutor_id = $1 AND status = $2
ORDER BY slot_date, slot_time, id
`, tutorID, models.StatusReserved)
	return items, err
}

// CompleteElapsed completes every reserved appointment whose start has
// passed and returns how many it moved.
func (s *AppointmentStore) CompleteElapsed(ctx context.Context) (int, error) {
	today := s.now().In(s.Location).Format(dateLayout)
	candidates := []models.Appointment{}
	if err := s.DB.SelectContext(ctx, &candidates, `
SELECT `+appointmentColumns+`
FROM appointments
WHERE status = $1 AND slot_date <= $2
ORDER BY slot_date, slot_time, id
`, models.StatusReserved, today); err != nil {
		return 0, err
	}
	completed := 0
	for _, appt := range candidates {
		_, err := s.apply(ctx, appt, Action{Kind: ActionComplete, ActorID: SystemActor, At: s.now()})
		switch {
		case err == nil:
			completed++
		case IsKind(err, KindInvalidState):
			// not started yet, or moved by someone else meanwhile
		default:
			return completed, err
		}
	}
	return completed, nil
}

// Sweep runs CompleteElapsed every interval until ctx is done.
func (s *AppointmentStore) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.CompleteElapsed(ctx)
			if err != nil {
				log.Printf("sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweep: completed %d appointments", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
