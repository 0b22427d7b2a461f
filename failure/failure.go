// Package failure separates business-rule failures raised on purpose by application
// code from defects, and decides which of them may be reported to the user without
// unwinding the request.
package failure

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// DefaultLimit bounds the message of an escalated recoverable failure.
const DefaultLimit = 300

const ellipsis = "..."

// Recoverable is a business-rule violation. It is safe to show its message to the
// user and to keep the surrounding unit of work.
type Recoverable struct {
	Message string
	Cause   error
}

func (e *Recoverable) Error() string { return e.Message }
func (e *Recoverable) Unwrap() error { return e.Cause }

// Recover returns a recoverable failure with a formatted message.
func Recover(format string, args ...any) error {
	return &Recoverable{Message: fmt.Sprintf(format, args...)}
}

func IsRecoverable(err error) bool {
	var target *Recoverable
	return errors.As(err, &target)
}

// Escalated is a fatal failure that always propagates to the caller.
type Escalated struct {
	Message string
	Cause   error
}

func (e *Escalated) Error() string { return e.Message }
func (e *Escalated) Unwrap() error { return e.Cause }

// InvocationError is the wrapper a method invoker puts around whatever the
// underlying operation raised, panics included.
type InvocationError struct {
	Member string
	Cause  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %v", e.Member, e.Cause)
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// ConfigurationError marks a request the deployment cannot serve. It is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Reason }

// Unwrap strips the outer InvocationError layers off err and returns what the
// operation itself raised. The cause chain below them is left untouched.
func Unwrap(err error) error {
	for {
		wrapper, ok := err.(*InvocationError)
		if !ok || wrapper.Cause == nil {
			return err
		}
		err = wrapper.Cause
	}
}

// Classification is the outcome of Classify. Exactly one of Message or Err is set
// meaningfully: Recovered classifications carry Message, escalated ones carry Err.
type Classification struct {
	Recovered bool
	Message   string
	Err       error
}

// Classify decides whether err may be reported to the user and the unit of work kept
// (canCommit must be true for that) or whether it must escalate.
func Classify(err error, canCommit bool, limit int) Classification {
	if err == nil {
		return Classification{Recovered: true}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	var escalated *Escalated
	if errors.As(err, &escalated) {
		return Classification{Err: escalated}
	}
	var recoverable *Recoverable
	if errors.As(err, &recoverable) {
		if canCommit {
			return Classification{Recovered: true, Message: recoverable.Message}
		}
		return Classification{Err: &Escalated{
			Message: Truncate(recoverable.Message, limit),
			Cause:   err,
		}}
	}
	var configuration *ConfigurationError
	if errors.As(err, &configuration) {
		return Classification{Err: err}
	}
	cause := Unwrap(err)
	return Classification{Err: &Escalated{Message: cause.Error(), Cause: cause}}
}

// Truncate shortens message to limit runes followed by an ellipsis marker.
func Truncate(message string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(message) <= limit {
		return message
	}
	runes := []rune(message)
	return string(runes[:limit]) + ellipsis
}
