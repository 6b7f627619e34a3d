package membership

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error category returned to callers
type Kind string

// Error kinds
const (
	KindForbidden                Kind = "forbidden"
	KindUnauthenticated          Kind = "unauthenticated"
	KindInvalidRequest           Kind = "invalid_request"
	KindTenantNotFound           Kind = "tenant_not_found"
	KindAlreadyActiveMember      Kind = "already_active_member"
	KindCrossTenantConflict      Kind = "cross_tenant_conflict"
	KindMembershipCreationFailed Kind = "membership_creation_failed"
	KindMembershipNotFound       Kind = "membership_not_found"
	KindEmailConflict            Kind = "email_conflict"
	KindPartialEmailSync         Kind = "partial_email_sync"
	KindSeatLimitReached         Kind = "seat_limit_reached"
	KindConcurrentModification   Kind = "concurrent_modification"
	KindInternal                 Kind = "internal"
)

var messages = map[Kind]string{
	KindForbidden:                "you do not have permission to manage members of this company",
	KindUnauthenticated:          "authentication required",
	KindInvalidRequest:           "the request is invalid",
	KindTenantNotFound:           "company not found",
	KindAlreadyActiveMember:      "this person is already an active member of the company",
	KindCrossTenantConflict:      "this email belongs to an active member of another company; contact support to move them",
	KindMembershipCreationFailed: "the membership could not be created; no account was left behind, please try again",
	KindMembershipNotFound:       "membership not found",
	KindEmailConflict:            "the new email address is already used by another account",
	KindPartialEmailSync:         "the login email was changed but the member record was not updated; retry the change to finish it",
	KindSeatLimitReached:         "the company's plan has no free seats",
	KindConcurrentModification:   "another change for this email is in progress; try again shortly",
	KindInternal:                 "internal error",
}

// Message returns the human-readable default message for k
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[KindInternal]
}

// Retryable reports whether repeating the same request can succeed without
// any other change.
func (k Kind) Retryable() bool {
	return k == KindPartialEmailSync || k == KindConcurrentModification
}

// Error is the error type returned by Service and the authorization gate.
// errors.Is matches on Kind, so the Err* sentinels below can be used as targets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Message()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Public returns the message safe to show to the caller. Wrapped causes are
// never included.
func (e *Error) Public() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Message()
}

// Sentinels for errors.Is
var (
	ErrForbidden                = &Error{Kind: KindForbidden}
	ErrAlreadyActiveMember      = &Error{Kind: KindAlreadyActiveMember}
	ErrCrossTenantConflict      = &Error{Kind: KindCrossTenantConflict}
	ErrMembershipCreationFailed = &Error{Kind: KindMembershipCreationFailed}
	ErrMembershipNotFound       = &Error{Kind: KindMembershipNotFound}
	ErrEmailConflict            = &Error{Kind: KindEmailConflict}
	ErrPartialEmailSync         = &Error{Kind: KindPartialEmailSync}
	ErrSeatLimitReached         = &Error{Kind: KindSeatLimitReached}
	ErrConcurrentModification   = &Error{Kind: KindConcurrentModification}
	ErrTenantNotFound           = &Error{Kind: KindTenantNotFound}
	ErrInvalidRequest           = &Error{Kind: KindInvalidRequest}
)

// NewError builds an *Error of kind wrapping err
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Invalid builds an invalid_request error with a specific message
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func internalErr(what string, err error) *Error {
	return &Error{Kind: KindInternal, Err: fmt.Errorf("%s: %w", what, err)}
}

// KindOf extracts the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
