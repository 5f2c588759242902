package errors

import (
	"errors"
	"fmt"
)

var ErrUnauthorized = errors.New("user is not authorized")
var ErrForbidden = errors.New("operation is forbidden for user")

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("resource not found")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service failure")
)

// ValidationError describes bad input rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing seat type, event day, booking or order.
type NotFoundError struct {
	Resource string
	Key      string
}

func NotFound(resource string, key any) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: fmt.Sprint(key)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// UnavailableItem is returned for every line that could not be reserved.
type UnavailableItem struct {
	Name              string `json:"name"`
	ShopID            int64  `json:"shopId"`
	SeatTypeID        int64  `json:"seatTypeId"`
	EventDayID        int64  `json:"eventDayId"`
	AvailableQuantity int    `json:"availableQuantity"`
}

// ConflictError covers insufficient inventory and illegal state transitions.
type ConflictError struct {
	Reason string
	Items  []UnavailableItem
}

func Conflict(reason string, items ...UnavailableItem) *ConflictError {
	return &ConflictError{Reason: reason, Items: items}
}

func (e *ConflictError) Error() string {
	if len(e.Items) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (%d lines)", e.Reason, len(e.Items))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type AuthorizationError struct {
	PrincipalID int64
	Action      string
	Resource    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("principal %d may not %s %s", e.PrincipalID, e.Action, e.Resource)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }

// ExternalServiceError wraps gateway, renderer, storage and mail failures.
type ExternalServiceError struct {
	Service string
	Err     error
}

func External(service string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Err: err}
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// UnavailableItems extracts per-line details from a ConflictError anywhere in the chain.
func UnavailableItems(err error) []UnavailableItem {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Items
	}
	return nil
}
