package booking

import "errors"

var (
	ErrNotAvailable  = errors.New("tutor has no availability covering the requested window")
	ErrAlreadyBooked = errors.New("session is not open for booking")
	ErrDuplicateRule = errors.New("an identical availability rule already exists")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}
