package domain

import "errors"

// Error kinds surfaced across package boundaries. Wrap with fmt.Errorf("%w")
// and match with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrConflict           = errors.New("conflict")
	ErrPrivacyExpired     = errors.New("privacy expired")
	ErrInternal           = errors.New("internal error")
)
