package httpapi

import (
	"context"
	"net/http"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
)

type UserStore interface {
	Create(ctx context.Context, in services.NewUser) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	VerifyCredential(ctx context.Context, username, password string) (models.User, bool, error)
	ListByRole(ctx context.Context, role models.Role) ([]models.User, error)
}

type UsersAPI struct {
	Users  UserStore
	Health HealthFunc
}

type CredentialRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CredentialResponse struct {
	Valid bool         `json:"valid"`
	User  *models.User `json:"user,omitempty"`
}

type UserList struct {
	Items []models.User `json:"items"`
}

func (a *UsersAPI) Router() http.Handler {
	r := newRouter(a.Health)
	r.Post("/credentials/verify", a.VerifyCredential)
	r.Route("/users", func(users chi.Router) {
		users.Post("/", a.CreateUser)
		users.Get("/", a.ListUsers)
		users.Get("/by-username/{username}", a.GetByUsername)
		users.Get("/{id}", a.GetUser)
	})
	return r
}

func (a *UsersAPI) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req services.NewUser
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := a.Users.Create(r.Context(), req)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, user)
}

func (a *UsersAPI) ListUsers(w http.ResponseWriter, r *http.Request) {
	role, err := models.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		WriteKind(w, services.KindBadRequest, "role must be tutor or student")
		return
	}
	users, err := a.Users.ListByRole(r.Context(), role)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, UserList{Items: users})
}

func (a *UsersAPI) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := a.Users.FindByID(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

func (a *UsersAPI) GetByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := a.Users.FindByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

func (a *UsersAPI) VerifyCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, ok, err := a.Users.VerifyCredential(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if !ok {
		WriteJSON(w, http.StatusOK, CredentialResponse{Valid: false})
		return
	}
	WriteJSON(w, http.StatusOK, CredentialResponse{Valid: true, User: &user})
}
