package httpapi

import (
	"context"
	"net/http"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
)

type AppointmentService interface {
	Publish(ctx context.Context, tutorID int64, date, clock string, note *string) (models.Appointment, error)
	Get(ctx context.Context, id int64) (models.Appointment, error)
	Reserve(ctx context.Context, id, studentID int64) (models.Appointment, error)
	Cancel(ctx context.Context, id, actorID int64) (models.Appointment, error)
	Complete(ctx context.Context, id, actorID int64) (models.Appointment, error)
	List(ctx context.Context, filter services.AppointmentFilter) ([]models.Appointment, error)
	ListForUser(ctx context.Context, userID int64) ([]models.Appointment, error)
	Agenda(ctx context.Context, tutorID int64) ([]models.Appointment, error)
}

type AppointmentsAPI struct {
	Appointments AppointmentService
	Health       HealthFunc
}

type PublishRequest struct {
	Date string  `json:"date"`
	Time string  `json:"time"`
	Note *string `json:"note"`
}

type AppointmentList struct {
	Items []models.Appointment `json:"items"`
}

func (a *AppointmentsAPI) Router() http.Handler {
	r := newRouter(a.Health)
	r.Route("/appointments", func(appts chi.Router) {
		appts.Use(WithActor)
		appts.With(RequireRole(models.RoleTutor)).Post("/", a.Publish)
		appts.Get("/", a.List)
		appts.Get("/mine", a.Mine)
		appts.With(RequireRole(models.RoleTutor)).Get("/agenda", a.Agenda)
		appts.Get("/{id}", a.Get)
		appts.Post("/{id}/reserve", a.transition(a.Appointments.Reserve))
		appts.Post("/{id}/cancel", a.transition(a.Appointments.Cancel))
		appts.Post("/{id}/complete", a.transition(a.Appointments.Complete))
	})
	return r
}

func (a *AppointmentsAPI) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	appt, err := a.Appointments.Publish(r.Context(), CurrentActor(r).ID, req.Date, req.Time, req.Note)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, appt)
}

func (a *AppointmentsAPI) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := services.AppointmentFilter{}
	if raw := query.Get("tutorId"); raw != "" {
		id, ok := parseInt64(raw)
		if !ok {
			WriteKind(w, services.KindBadRequest, "Invalid tutorId")
			return
		}
		filter.TutorID = id
	}
	if raw := query.Get("studentId"); raw != "" {
		id, ok := parseInt64(raw)
		if !ok {
			WriteKind(w, services.KindBadRequest, "Invalid studentId")
			return
		}
		filter.StudentID = id
	}
	if raw := query.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			WriteKind(w, services.KindBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	items, err := a.Appointments.List(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, AppointmentList{Items: items})
}

func (a *AppointmentsAPI) Mine(w http.ResponseWriter, r *http.Request) {
	items, err := a.Appointments.ListForUser(r.Context(), CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, AppointmentList{Items: items})
}

func (a *AppointmentsAPI) Agenda(w http.ResponseWriter, r *http.Request) {
	items, err := a.Appointments.Agenda(r.Context(), CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, AppointmentList{Items: items})
}

func (a *AppointmentsAPI) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	appt, err := a.Appointments.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, appt)
}

// transition adapts reserve, cancel and complete, which all take the
// appointment id and the acting user.
func (a *AppointmentsAPI) transition(apply func(ctx context.Context, id, actorID int64) (models.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		appt, err := apply(r.Context(), id, CurrentActor(r).ID)
		if err != nil {
			WriteServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, appt)
	}
}
