package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Role is fixed at account creation.
type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleTutor, RoleStudent:
		return Role(raw), nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

func (r *Role) Scan(src any) error {
	parsed, err := ParseRole(scanString(src))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown role %q", string(r))
	}
	return string(r), nil
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRole(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// AppointmentStatus is the closed set of appointment states. Values outside
// the set are rejected when reading from or writing to the database and when
// decoding JSON.
type AppointmentStatus string

const (
	StatusAvailable AppointmentStatus = "available"
	StatusReserved  AppointmentStatus = "reserved"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

func ParseStatus(raw string) (AppointmentStatus, error) {
	switch AppointmentStatus(raw) {
	case StatusAvailable, StatusReserved, StatusCancelled, StatusCompleted:
		return AppointmentStatus(raw), nil
	}
	return "", fmt.Errorf("unknown appointment status %q", raw)
}

func (s AppointmentStatus) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Terminal reports whether no further transition is possible.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s *AppointmentStatus) Scan(src any) error {
	parsed, err := ParseStatus(scanString(src))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s AppointmentStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown appointment status %q", string(s))
	}
	return string(s), nil
}

func (s *AppointmentStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func scanString(src any) string {
	switch v := src.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	}
	return fmt.Sprint(src)
}
