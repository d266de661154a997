package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tutorias-backend-go/internal/services"
)

type ErrorResponse struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Message: message})
}

func WriteKind(w http.ResponseWriter, kind services.Kind, message string) {
	WriteJSON(w, services.StatusOf(kind), ErrorResponse{Kind: string(kind), Message: message})
}

// WriteServiceError reports taxonomy errors with their own status. Anything
// else is logged and answered with a generic 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var se services.ServiceError
	if errors.As(err, &se) {
		status := se.Status
		if status == 0 {
			status = services.StatusOf(se.Kind)
		}
		WriteJSON(w, status, ErrorResponse{Kind: string(se.Kind), Message: se.Message})
		return
	}
	log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	WriteKind(w, services.KindInternal, "Internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		WriteKind(w, services.KindBadRequest, "Invalid payload")
		return false
	}
	return true
}
