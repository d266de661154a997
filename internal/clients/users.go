package clients

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"
)

// Users talks to the user directory service.
type Users struct {
	Client
}

func NewUsers(baseURL string, attempts int, backoff time.Duration) *Users {
	return &Users{Client: New(baseURL, attempts, backoff)}
}

func (u *Users) FindByID(ctx context.Context, id int64) (models.User, error) {
	var user models.User
	err := u.do(ctx, http.MethodGet, "/users/"+strconv.FormatInt(id, 10), nil, &user, true)
	return user, err
}

func (u *Users) FindByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := u.do(ctx, http.MethodGet, "/users/by-username/"+url.PathEscape(username), nil, &user, true)
	return user, err
}

type verifyRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type verifyResponse struct {
	Valid bool         `json:"valid"`
	User  *models.User `json:"user,omitempty"`
}

// VerifyCredential is not retried; a failed attempt is reported as
// ServiceUnavailable and the caller decides.
func (u *Users) VerifyCredential(ctx context.Context, username, password string) (models.User, bool, error) {
	var resp verifyResponse
	if err := u.do(ctx, http.MethodPost, "/credentials/verify", verifyRequest{Username: username, Password: password}, &resp, false); err != nil {
		return models.User{}, false, err
	}
	if !resp.Valid || resp.User == nil {
		return models.User{}, false, nil
	}
	return *resp.User, true, nil
}

var _ services.UserLookup = (*Users)(nil)
