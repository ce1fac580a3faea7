package session

import "errors"

var (
	ErrAuthFailed   = errors.New("login failed")
	ErrTokenInvalid = errors.New("stored token is invalid")
	ErrNoSession    = errors.New("not logged in")
	ErrForbidden    = errors.New("admin role required")
	ErrDemoSession  = errors.New("not available in demo mode")
	ErrInvalidUser  = errors.New("invalid user")
	ErrUnknownUser  = errors.New("unknown user")
	ErrNotDeletable = errors.New("admin accounts cannot be deleted")
)
