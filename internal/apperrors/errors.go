// Package apperrors defines the error kinds returned by the trip lifecycle
// operations. Callers classify errors with errors.Is against the Err* sentinels
// and read the violated rule of a validation failure with RuleOf.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("invalid state")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrInternal            = errors.New("internal inconsistency")
)

// Rule names a specific validation rule.
type Rule string

const (
	RuleVehicleUnavailable      Rule = "vehicle_unavailable"
	RuleDriverUnavailable       Rule = "driver_unavailable"
	RuleLicenseExpired          Rule = "license_expired"
	RuleLicenseCategoryMismatch Rule = "license_category_mismatch"
	RuleOverload                Rule = "overload"
	RuleOdometerNotIncreasing   Rule = "odometer_not_increasing"
	RuleDriverRequired          Rule = "driver_required"
	RuleRoleNotPermitted        Rule = "role_not_permitted"
	RuleInvalidInput            Rule = "invalid_input"
)

// Error carries the kind, the failing operation and, for validation failures, the rule.
type Error struct {
	Kind error
	Op   string
	Rule Rule
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op string, rule Rule, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

func InvalidState(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func ResourceUnavailable(op, format string, args ...any) error {
	return &Error{Kind: ErrResourceUnavailable, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Internal reports a transition that was expected to always commit. cause may be nil.
func Internal(op string, cause error, format string, args ...any) error {
	return &Error{Kind: ErrInternal, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// RuleOf returns the validation rule carried by err, if any.
func RuleOf(err error) Rule {
	var e *Error
	if errors.As(err, &e) {
		return e.Rule
	}
	return ""
}
