package services

import (
	"fmt"
	"time"

	"tutorias-backend-go/internal/models"
)

type ActionKind string

const (
	ActionReserve  ActionKind = "reserve"
	ActionCancel   ActionKind = "cancel"
	ActionComplete ActionKind = "complete"
)

// SystemActor completes elapsed sessions on behalf of nobody in particular.
const SystemActor int64 = 0

// Action is one requested transition. ActorRole is only consulted for
// reserve, where the actor becomes the appointment's student.
type Action struct {
	Kind      ActionKind
	ActorID   int64
	ActorRole models.Role
	At        time.Time
}

// Notice is a notification implied by a transition. Label names the
// transition for idempotency keys.
type Notice struct {
	RecipientID int64
	Kind        string
	Label       string
	Message     string
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// ParseSlot validates a slot's date and time and returns its start instant
// in loc.
func ParseSlot(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, ErrBadRequest("date must be YYYY-MM-DD")
	}
	hm, err := time.Parse(timeLayout, clock)
	if err != nil {
		return time.Time{}, ErrBadRequest("time must be HH:MM")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), nil
}

// Transition computes the appointment that results from applying act to cur,
// together with the notifications it implies. It performs no I/O; the caller
// persists the result conditioned on cur.Version.
func Transition(cur models.Appointment, act Action, loc *time.Location) (models.Appointment, []Notice, error) {
	next := cur
	next.Version = cur.Version + 1
	next.UpdatedAt = act.At

	switch act.Kind {
	case ActionReserve:
		if act.ActorRole != models.RoleStudent {
			return cur, nil, ErrInvalidRole("only students can reserve appointments")
		}
		if cur.Status != models.StatusAvailable {
			return cur, nil, ErrInvalidState(fmt.Sprintf("appointment is %s, not available", cur.Status))
		}
		student := act.ActorID
		next.StudentID = &student
		next.Status = models.StatusReserved
		return next, []Notice{{
			RecipientID: cur.TutorID,
			Kind:        "appointment_reserved",
			Label:       "reserved",
			Message:     fmt.Sprintf("Your slot on %s at %s has been reserved", cur.Date, cur.Time),
		}}, nil

	case ActionCancel:
		if cur.Status.Terminal() {
			return cur, nil, ErrInvalidState(fmt.Sprintf("appointment is already %s", cur.Status))
		}
		if act.ActorID == cur.TutorID {
			next.Status = models.StatusCancelled
			if cur.Status != models.StatusReserved || cur.StudentID == nil {
				return next, nil, nil
			}
			return next, []Notice{{
				RecipientID: *cur.StudentID,
				Kind:        "appointment_cancelled",
				Label:       "cancelled",
				Message:     fmt.Sprintf("Your appointment on %s at %s was cancelled by the tutor", cur.Date, cur.Time),
			}}, nil
		}
		if cur.Status == models.StatusReserved && cur.StudentID != nil && *cur.StudentID == act.ActorID {
			next.Status = models.StatusAvailable
			next.StudentID = nil
			return next, []Notice{{
				RecipientID: cur.TutorID,
				Kind:        "appointment_released",
				Label:       "released",
				Message:     fmt.Sprintf("The student cancelled the appointment on %s at %s; the slot is available again", cur.Date, cur.Time),
			}}, nil
		}
		return cur, nil, ErrForbidden("only the tutor or the reserving student can cancel this appointment")

	case ActionComplete:
		if cur.Status != models.StatusReserved {
			return cur, nil, ErrInvalidState(fmt.Sprintf("appointment is %s, not reserved", cur.Status))
		}
		if act.ActorID != SystemActor && act.ActorID != cur.TutorID {
			return cur, nil, ErrForbidden("only the tutor can complete this appointment")
		}
		start, err := ParseSlot(cur.Date, cur.Time, loc)
		if err != nil {
			return cur, nil, err
		}
		if act.At.Before(start) {
			return cur, nil, ErrInvalidState("appointment has not started yet")
		}
		next.Status = models.StatusCompleted
		if cur.StudentID == nil {
			return next, nil, nil
		}
		return next, []Notice{{
			RecipientID: *cur.StudentID,
			Kind:        "appointment_completed",
			Label:       "completed",
			Message:     fmt.Sprintf("Your appointment on %s at %s is complete", cur.Date, cur.Time),
		}}, nil
	}
	return cur, nil, ErrBadRequest(fmt.Sprintf("unknown action %q", act.Kind))
}

// DedupeKey identifies the notification a transition produced so a retried
// delivery does not insert it twice.
func DedupeKey(appt models.Appointment, n Notice) string {
	return fmt.Sprintf("appointment:%d:v%d:%s:%d", appt.ID, appt.Version, n.Label, n.RecipientID)
}
