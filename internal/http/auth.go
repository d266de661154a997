package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"
)

// Headers the gateway sets on every forwarded request after authenticating
// the caller. Services trust them because only the gateway is exposed.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
	HeaderRequestID = "X-Request-ID"
)

type contextKey string

const ctxActor contextKey = "actor"

type Actor struct {
	ID   int64
	Role models.Role
}

// WithActor rejects requests that do not carry a valid actor.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderActorID)), 10, 64)
		if err != nil || id <= 0 {
			WriteKind(w, services.KindUnauthorized, "Authentication failed")
			return
		}
		role, err := models.ParseRole(strings.TrimSpace(r.Header.Get(HeaderActorRole)))
		if err != nil {
			WriteKind(w, services.KindUnauthorized, "Authentication failed")
			return
		}
		ctx := context.WithValue(r.Context(), ctxActor, Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func CurrentActor(r *http.Request) Actor {
	if value, ok := r.Context().Value(ctxActor).(Actor); ok {
		return value
	}
	return Actor{}
}

func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if CurrentActor(r).Role != role {
				WriteKind(w, services.KindInvalidRole, "Not allowed for role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
