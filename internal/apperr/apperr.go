// Package apperr defines the closed error taxonomy shared by the HTTP
// boundary and the queue workers. Every business failure in the system maps
// to exactly one Kind; anything else is KindInternal.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindDelivery
)

// Rejection is one recipient the mail transport refused, with its reason.
type Rejection struct {
	Recipient string
	Reason    string
}

// Error is a tagged business error. Delivery errors additionally carry one
// Rejection per refused recipient.
type Error struct {
	Kind       Kind
	Message    string
	Rejections []Rejection
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus maps the kind to the status code used at the HTTP boundary.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDelivery:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) *Error {
	if msg == "" {
		msg = "A validation error happens"
	}
	return &Error{Kind: KindValidation, Message: msg}
}

func Unauthorized(msg string) *Error {
	if msg == "" {
		msg = "Not authorized to access the resource"
	}
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func NotFound(msg string) *Error {
	if msg == "" {
		msg = "Is not possible to find this resource"
	}
	return &Error{Kind: KindNotFound, Message: msg}
}

func Conflict(msg string) *Error {
	if msg == "" {
		msg = "Conflict with the current state"
	}
	return &Error{Kind: KindConflict, Message: msg}
}

func Delivery(rejections []Rejection) *Error {
	return &Error{
		Kind:       KindDelivery,
		Message:    fmt.Sprintf("Delivery rejected for %d recipient(s)", len(rejections)),
		Rejections: rejections,
	}
}

func Internal(msg string) *Error {
	if msg == "" {
		msg = "An unexpected error happens"
	}
	return &Error{Kind: KindInternal, Message: msg}
}

// From classifies any error. Errors outside the taxonomy come back as
// KindInternal with the generic message, the raw text preserved separately
// by callers that audit it.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("")
}

// IsKind reports whether err is a taxonomy error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
