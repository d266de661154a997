package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	GivenName    string    `db:"given_name" json:"givenName"`
	FamilyName   string    `db:"family_name" json:"familyName"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Appointment is a bookable slot. Date is YYYY-MM-DD and Time is HH:MM in
// the appointments service time zone. Version increments on every state
// transition and is the compare-and-swap token for the row.
type Appointment struct {
	ID        int64             `db:"id" json:"id"`
	TutorID   int64             `db:"tutor_id" json:"tutorId"`
	StudentID *int64            `db:"student_id" json:"studentId"`
	Date      string            `db:"slot_date" json:"date"`
	Time      string            `db:"slot_time" json:"time"`
	Status    AppointmentStatus `db:"status" json:"status"`
	Note      *string           `db:"note" json:"note,omitempty"`
	Version   int               `db:"version" json:"version"`
	CreatedAt time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time         `db:"updated_at" json:"updatedAt"`
}

type File struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Path      string    `db:"path" json:"path"`
	OwnerID   int64     `db:"owner_id" json:"ownerId"`
	Type      string    `db:"type" json:"type"`
	Size      int64     `db:"size" json:"size"`
	SHA256    *string   `db:"sha256" json:"sha256,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type Notification struct {
	ID          int64          `db:"id" json:"id"`
	RecipientID int64          `db:"recipient_id" json:"recipientId"`
	Kind        string         `db:"kind" json:"kind"`
	Message     string         `db:"message" json:"message"`
	Data        types.JSONText `db:"data" json:"data,omitempty"`
	Read        bool           `db:"read_flag" json:"read"`
	DedupeKey   *string        `db:"dedupe_key" json:"-"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}
