package deployerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// ErrorType categorises deployment failures.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeTransientNetwork
	ErrorTypeStoreConflict
	ErrorTypeMissingSiblingResource
	ErrorTypeMisconfiguredTopology
	ErrorTypeDryRunAssumptionViolation
	ErrorTypeWriteReverted
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeTransientNetwork:
		return "transient_network"
	case ErrorTypeStoreConflict:
		return "store_conflict"
	case ErrorTypeMissingSiblingResource:
		return "missing_sibling_resource"
	case ErrorTypeMisconfiguredTopology:
		return "misconfigured_topology"
	case ErrorTypeDryRunAssumptionViolation:
		return "dry_run_assumption_violation"
	case ErrorTypeWriteReverted:
		return "write_reverted"
	default:
		return "unknown"
	}
}

// Retryable reports whether a later run may succeed without operator action.
func (e ErrorType) Retryable() bool {
	return e == ErrorTypeTransientNetwork || e == ErrorTypeMissingSiblingResource
}

// Error is a structured deployment error.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Key     *resource.Key
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Type.String())
	if e.Key != nil {
		b.WriteString(" [")
		b.WriteString(e.Key.String())
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Context[k])
		}
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same type, so sentinels like
// ErrStoreConflict work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// New creates a deployment error with the specified type and message
func New(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Context: make(map[string]interface{}),
	}
}

// WithCause adds a cause error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithKey attaches the resource the error relates to
func (e *Error) WithKey(key resource.Key) *Error {
	e.Key = &key
	return e
}

// WithContext adds context information
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrTransientNetwork          = &Error{Type: ErrorTypeTransientNetwork}
	ErrStoreConflict             = &Error{Type: ErrorTypeStoreConflict}
	ErrMissingSiblingResource    = &Error{Type: ErrorTypeMissingSiblingResource}
	ErrMisconfiguredTopology     = &Error{Type: ErrorTypeMisconfiguredTopology}
	ErrDryRunAssumptionViolation = &Error{Type: ErrorTypeDryRunAssumptionViolation}
	ErrWriteReverted             = &Error{Type: ErrorTypeWriteReverted}
)

func NewTransientNetwork(format string, args ...interface{}) *Error {
	return New(ErrorTypeTransientNetwork, format, args...)
}

func NewStoreConflict(key resource.Key, existing, attempted string) *Error {
	return New(ErrorTypeStoreConflict, "address already recorded").
		WithKey(key).
		WithContext("existing", existing).
		WithContext("attempted", attempted)
}

func NewMissingSibling(key resource.Key, format string, args ...interface{}) *Error {
	return New(ErrorTypeMissingSiblingResource, format, args...).WithKey(key)
}

func NewMisconfigured(format string, args ...interface{}) *Error {
	return New(ErrorTypeMisconfiguredTopology, format, args...)
}

func NewDryRunViolation(format string, args ...interface{}) *Error {
	return New(ErrorTypeDryRunAssumptionViolation, format, args...)
}

func NewWriteReverted(format string, args ...interface{}) *Error {
	return New(ErrorTypeWriteReverted, format, args...)
}

// KindOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnknown.
func KindOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given type anywhere in its chain.
func IsType(err error, t ErrorType) bool {
	return err != nil && KindOf(err) == t
}
