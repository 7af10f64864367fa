package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration      = errors.New("invalid configuration")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDuplicateTicket    = errors.New("duplicate ticket")
	ErrNotATicketChannel  = errors.New("not a ticket channel")
	ErrAlreadyClaimed     = errors.New("ticket already claimed")
	ErrNotStaff           = errors.New("actor is not staff")
	ErrRateLimited        = errors.New("rate limited")
	ErrExternalCallFailed = errors.New("external call failed")
	ErrAttributionFailed  = errors.New("attribution failed")
	ErrTicketNotOpen      = errors.New("ticket is not open")
	ErrNotClosing         = errors.New("ticket close was not requested")
	ErrUnknownCategory    = errors.New("unknown ticket category")
)

// External wraps a platform failure so callers can match ErrExternalCallFailed
// while keeping the original cause.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrExternalCallFailed, err)
}

// Expected reports whether err is a user-facing outcome rather than a fault.
func Expected(err error) bool {
	for _, target := range []error{
		ErrPermissionDenied,
		ErrDuplicateTicket,
		ErrNotATicketChannel,
		ErrAlreadyClaimed,
		ErrNotStaff,
		ErrRateLimited,
		ErrTicketNotOpen,
		ErrNotClosing,
		ErrUnknownCategory,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateTicket):
		return "You already have an open ticket."
	case errors.Is(err, ErrNotATicketChannel):
		return "This is not an active ticket channel."
	case errors.Is(err, ErrAlreadyClaimed):
		return "This ticket has already been claimed."
	case errors.Is(err, ErrNotStaff):
		return "Only support staff can do that."
	case errors.Is(err, ErrPermissionDenied):
		return "You do not have permission to do that."
	case errors.Is(err, ErrRateLimited):
		return "You are doing that too often. Please slow down."
	case errors.Is(err, ErrTicketNotOpen):
		return "This ticket is closing or already closed."
	case errors.Is(err, ErrNotClosing):
		return "There is no pending close request for this ticket."
	case errors.Is(err, ErrUnknownCategory):
		return "That ticket category does not exist."
	case errors.Is(err, ErrConfiguration):
		return "The bot is misconfigured for this server. Please contact an administrator."
	case errors.Is(err, ErrExternalCallFailed):
		return "Discord rejected the request. Please try again later."
	case errors.Is(err, ErrAttributionFailed):
		return "The responsible account could not be identified."
	default:
		return "Something went wrong while processing your request."
	}
}
