package app

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrChatNotFound = errors.New("chat not found")
	ErrUserNotFound = errors.New("user not found")

	// ErrSelfContact rejects starting a chat about one's own report.
	ErrSelfContact = errors.New("cannot contact your own report")
	// ErrNotParticipant rejects chat access by anyone but the two parties.
	ErrNotParticipant = errors.New("not a participant of this chat")
	// ErrNotOwner rejects item mutations by anyone but the reporter.
	ErrNotOwner = errors.New("not the reporter of this item")
	// ErrRelatedNotOwned rejects linking a counter-claim report the caller
	// does not own.
	ErrRelatedNotOwned = errors.New("linked report does not belong to caller")
	// ErrSameTypeLink rejects linking two reports of the same type.
	ErrSameTypeLink = errors.New("cannot link two reports of the same type")

	ErrAlreadyResolved = errors.New("item already resolved")
	ErrChatClosed      = errors.New("chat is closed")
	ErrEmptyMessage    = errors.New("message needs text or media")
	ErrRateLimited     = errors.New("too many reports, try again later")
)

// ValidationError reports malformed or out-of-range caller input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a caller-input validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
