package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"tutorias-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string) (int64, bool) {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, ok := parseInt64(chi.URLParam(r, name))
	if !ok {
		WriteKind(w, services.KindBadRequest, "Invalid id")
	}
	return id, ok
}

// HealthFunc produces the body of GET /health.
type HealthFunc func(r *http.Request) services.HealthReport

func newRouter(health HealthFunc) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			WriteJSON(w, http.StatusOK, services.HealthReport{Status: "ok", CheckedAt: time.Now().UTC()})
			return
		}
		report := health(r)
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		WriteJSON(w, status, report)
	})
	return r
}
