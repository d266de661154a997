package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tutorias-backend-go/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type NewUser struct {
	Username   string      `json:"username" validate:"required,max=64"`
	Email      string      `json:"email" validate:"required,email,max=255"`
	Password   string      `json:"password" validate:"min=6,max=128"`
	Role       models.Role `json:"role" validate:"oneof=tutor student"`
	GivenName  string      `json:"givenName" validate:"max=100"`
	FamilyName string      `json:"familyName" validate:"max=100"`
}

var newUserMessages = map[string]string{
	"Username": "username must be 1 to 64 characters",
	"Email":    "email is not valid",
	"Password": "password must be between 6 and 128 characters",
	"Role":     "role must be tutor or student",
}

// validateInput runs the struct tags and turns the first failure into a
// BadRequest carrying a readable message.
func validateInput(in any, messages map[string]string) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		field := fieldErrs[0].StructField()
		if msg, ok := messages[field]; ok {
			return ErrBadRequest(msg)
		}
		return ErrBadRequest(strings.ToLower(field) + " is not valid")
	}
	return ErrBadRequest("invalid input")
}

// UserDirectory owns the users table. Every other store treats user ids as
// read-only references resolved through it.
type UserDirectory struct {
	DB *sqlx.DB
}

func NewUserDirectory(db *sqlx.DB) *UserDirectory {
	return &UserDirectory{DB: db}
}

const userColumns = `id, username, email, password_hash, role, given_name, family_name, created_at`

func (d *UserDirectory) Create(ctx context.Context, in NewUser) (models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateInput(in, newUserMessages); err != nil {
		return models.User{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}
	var user models.User
	err = d.DB.GetContext(ctx, &user, `
INSERT INTO users (username, email, password_hash, role, given_name, family_name)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING `+userColumns,
		in.Username, in.Email, hash, in.Role, strings.TrimSpace(in.GivenName), strings.TrimSpace(in.FamilyName))
	if err != nil {
		return models.User{}, translatePgError(err)
	}
	return user, nil
}

func (d *UserDirectory) FindByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := d.DB.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username = $1`, strings.TrimSpace(username))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound("user not found")
	}
	return user, err
}

func (d *UserDirectory) FindByID(ctx context.Context, id int64) (models.User, error) {
	var user models.User
	err := d.DB.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound("user not found")
	}
	return user, err
}

// VerifyCredential reports whether password matches the stored hash. An
// unknown username still pays for one hash comparison so both failures take
// comparable time.
func (d *UserDirectory) VerifyCredential(ctx context.Context, username, password string) (models.User, bool, error) {
	user, err := d.FindByUsername(ctx, username)
	if IsKind(err, KindNotFound) {
		VerifyPassword(password, dummyHash)
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, err
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return models.User{}, false, nil
	}
	return user, true, nil
}

func (d *UserDirectory) ListByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	if !role.Valid() {
		return nil, ErrBadRequest("role must be tutor or student")
	}
	users := []models.User{}
	err := d.DB.SelectContext(ctx, &users, `
SELECT `+userColumns+`
FROM users
WHERE role = $1
ORDER BY family_name, given_name, username
`, role)
	return users, err
}

var dummyHash = mustHash("not-a-real-password")

func mustHash(raw string) string {
	hash, err := HashPassword(raw)
	if err != nil {
		panic(err)
	}
	return hash
}
