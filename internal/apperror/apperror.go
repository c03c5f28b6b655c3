// Package apperror defines the tagged error type shared by every karma
// component. Each error carries a Kind from the failure taxonomy, a stable
// snake_case code, and optional structured context fields.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindStateConflict Kind = "state_conflict"
	KindResource      Kind = "resource"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Error is a classified failure. Two errors are equal under errors.Is when
// their codes match, so sentinels keep matching after fields are attached.
type Error struct {
	Kind   Kind
	Code   string
	Fields map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Fields) == 0 {
		return e.Code
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Fields[k]))
	}
	return e.Code + " (" + strings.Join(parts, ", ") + ")"
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return e.Code == other.Code
}

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func Validation(code string) *Error    { return newError(KindValidation, code) }
func Authorization(code string) *Error { return newError(KindAuthorization, code) }
func StateConflict(code string) *Error { return newError(KindStateConflict, code) }
func Resource(code string) *Error      { return newError(KindResource, code) }
func NotFound(code string) *Error      { return newError(KindNotFound, code) }
func Internal(code string) *Error      { return newError(KindInternal, code) }

// With returns a copy of err carrying an extra context field. Non-apperror
// values are returned unchanged.
func With(err error, key string, value any) error {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr == nil {
		return err
	}
	fields := make(map[string]any, len(appErr.Fields)+1)
	for k, v := range appErr.Fields {
		fields[k] = v
	}
	fields[key] = value
	return &Error{Kind: appErr.Kind, Code: appErr.Code, Fields: fields}
}

// KindOf reports the taxonomy kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or "internal_error" for unclassified errors.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}
	return "internal_error"
}

// FieldsOf returns the context fields attached to err.
func FieldsOf(err error) map[string]any {
	var appErr *Error
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Fields
	}
	return nil
}

// ErrArithmeticOverflow aborts any computation whose integer result would not fit.
var ErrArithmeticOverflow = Internal("arithmetic_overflow")
