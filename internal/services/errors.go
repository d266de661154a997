package services

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	KindDuplicateIdentity  Kind = "DuplicateIdentity"
	KindSlotConflict       Kind = "SlotConflict"
	KindInvalidState       Kind = "InvalidState"
	KindInvalidRole        Kind = "InvalidRole"
	KindNotFound           Kind = "NotFound"
	KindForbidden          Kind = "Forbidden"
	KindOwnerNotFound      Kind = "OwnerNotFound"
	KindDuplicatePath      Kind = "DuplicatePath"
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindBadRequest         Kind = "BadRequest"
	KindUnauthorized       Kind = "Unauthorized"
	KindRateLimited        Kind = "RateLimited"
	KindInternal           Kind = "Internal"
)

var kindStatus = map[Kind]int{
	KindDuplicateIdentity:  http.StatusConflict,
	KindSlotConflict:       http.StatusConflict,
	KindInvalidState:       http.StatusConflict,
	KindInvalidRole:        http.StatusUnprocessableEntity,
	KindNotFound:           http.StatusNotFound,
	KindForbidden:          http.StatusForbidden,
	KindOwnerNotFound:      http.StatusUnprocessableEntity,
	KindDuplicatePath:      http.StatusConflict,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindBadRequest:         http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindRateLimited:        http.StatusTooManyRequests,
	KindInternal:           http.StatusInternalServerError,
}

type ServiceError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e ServiceError) Error() string {
	return e.Message
}

// NewError builds a ServiceError whose status follows from kind. Unknown
// kinds are reported as Internal.
func NewError(kind Kind, msg string) error {
	status, ok := kindStatus[kind]
	if !ok {
		kind, status = KindInternal, http.StatusInternalServerError
	}
	return ServiceError{Kind: kind, Status: status, Message: msg}
}

// StatusOf returns the HTTP status conventionally used for kind.
func StatusOf(kind Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func ErrNotFound(msg string) error {
	return NewError(KindNotFound, msg)
}

func ErrBadRequest(msg string) error {
	return NewError(KindBadRequest, msg)
}

func ErrForbidden(msg string) error {
	return NewError(KindForbidden, msg)
}

func ErrUnauthorized(msg string) error {
	return NewError(KindUnauthorized, msg)
}

func ErrInvalidState(msg string) error {
	return NewError(KindInvalidState, msg)
}

func ErrInvalidRole(msg string) error {
	return NewError(KindInvalidRole, msg)
}

func ErrServiceUnavailable(msg string) error {
	return NewError(KindServiceUnavailable, msg)
}

// KindOf reports the taxonomy kind carried by err, or Internal when err is
// not a ServiceError.
func KindOf(err error) Kind {
	var se ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// constraintKinds maps schema constraint names to the error a caller sees
// when an insert or update violates them.
var constraintKinds = map[string]ServiceError{
	"users_username_key":                  {Kind: KindDuplicateIdentity, Message: "username already registered"},
	"users_email_key":                     {Kind: KindDuplicateIdentity, Message: "email already registered"},
	"appointments_slot_key":               {Kind: KindSlotConflict, Message: "tutor already has a slot at that date and time"},
	"appointments_tutor_id_fkey":          {Kind: KindNotFound, Message: "tutor not found"},
	"appointments_student_id_fkey":        {Kind: KindNotFound, Message: "student not found"},
	"files_path_key":                      {Kind: KindDuplicatePath, Message: "storage path already in use"},
	"files_owner_fkey":                    {Kind: KindOwnerNotFound, Message: "owner not found"},
	"notifications_recipient_fkey":        {Kind: KindNotFound, Message: "recipient not found"},
	"notifications_dedupe_key":            {Kind: KindInvalidState, Message: "notification already recorded"},
	"appointments_student_matches_status": {Kind: KindInvalidState, Message: "student does not match appointment status"},
}

// translatePgError turns unique and foreign-key violations into taxonomy
// errors. Anything else is returned unchanged.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505", "23503", "23514":
		if se, ok := constraintKinds[pgErr.ConstraintName]; ok {
			se.Status = StatusOf(se.Kind)
			return se
		}
	}
	return err
}
