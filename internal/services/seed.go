package services

import (
	"context"

	"tutorias-backend-go/internal/models"

	"github.com/jmoiron/sqlx"
)

type seedAccount struct {
	Username   string
	Email      string
	Password   string
	Role       models.Role
	GivenName  string
	FamilyName string
}

var demoAccounts = []seedAccount{
	{Username: "tutor1", Email: "tutor1@tutorias.local", Password: "tutor123", Role: models.RoleTutor, GivenName: "Tutor", FamilyName: "Demo"},
	{Username: "estudiante1", Email: "estudiante1@tutorias.local", Password: "estudiante123", Role: models.RoleStudent, GivenName: "Estudiante", FamilyName: "Demo"},
}

// SeedDemoUsers inserts the demo tutor and student unless they already exist
// and returns how many rows it added. Running it again is a no-op.
func SeedDemoUsers(ctx context.Context, db *sqlx.DB) (int, error) {
	inserted := 0
	for _, account := range demoAccounts {
		ok, err := ensureAccount(ctx, db, account)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func ensureAccount(ctx context.Context, db *sqlx.DB, account seedAccount) (bool, error) {
	var exists bool
	if err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, account.Username); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	hash, err := HashPassword(account.Password)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
INSERT INTO users (username, email, password_hash, role, given_name, family_name)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT DO NOTHING
`, account.Username, account.Email, hash, account.Role, account.GivenName, account.FamilyName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
