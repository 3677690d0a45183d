package models

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("concurrent update conflict")
	ErrAlreadyQueued   = errors.New("request already queued")
	ErrAlreadyMatched  = errors.New("user already in an open group")
	ErrNotAMember      = errors.New("user is not a member of the group")
	ErrNotLeader       = errors.New("user is not the group leader")
	ErrGroupClosed     = errors.New("group is cancelled")
	ErrNotRegistered   = errors.New("user is not registered")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrCycleInProgress = errors.New("matching cycle already running")
)

// IsValidation reports whether err stems from malformed user input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}

// IsConflict reports whether err is a user-recoverable state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyQueued) ||
		errors.Is(err, ErrAlreadyMatched) ||
		errors.Is(err, ErrNotAMember) ||
		errors.Is(err, ErrNotLeader) ||
		errors.Is(err, ErrGroupClosed) ||
		errors.Is(err, ErrNotRegistered)
}
