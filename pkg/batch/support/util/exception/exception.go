// Package exception provides the error types shared by every layer of seekbatch.
// Errors are classified so the chunk engine can tell a skippable data-quality
// failure from a fatal one without inspecting error strings.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// errorRegistry maps error kind names used in configuration (for example
// `skippable_errors: [InvalidPaymentAmount]`) to sentinel errors compared with errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers a sentinel error under a kind name.
// It panics when the name is empty or the sentinel is nil, since both are programming errors.
func RegisterErrorType(name string, sentinel error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("error type name cannot be empty")
	}
	if sentinel == nil {
		panic(fmt.Sprintf("cannot register nil sentinel for name: %s", name))
	}
	errorRegistry[name] = sentinel
}

// LookupErrorType returns the sentinel registered under name.
func LookupErrorType(name string) (error, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	sentinel, ok := errorRegistry[name]
	return sentinel, ok
}

// IsErrorTypeRegistered reports whether name has a registered sentinel.
func IsErrorTypeRegistered(name string) bool {
	_, ok := LookupErrorType(name)
	return ok
}

// RegisteredErrorTypes returns the registered kind names in sorted order.
func RegisteredErrorTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	names := make([]string, 0, len(errorRegistry))
	for name := range errorRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsErrorOfType reports whether err matches the sentinel registered under name.
// Unregistered names never match.
func IsErrorOfType(err error, name string) bool {
	if err == nil {
		return false
	}
	sentinel, ok := LookupErrorType(name)
	if !ok {
		return false
	}
	return errors.Is(err, sentinel)
}

// BatchError is the error type raised by framework components.
// It records the module where the error occurred and whether it may be skipped.
type BatchError struct {
	// Module indicates where the error occurred (e.g., "reader", "processor", "writer", "checkpoint").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error

	isSkippable bool
	isRetryable bool
}

// NewBatchError creates a new BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isSkippable: isSkippable,
		isRetryable: isRetryable,
	}
}

// NewBatchErrorf creates a non-skippable, non-retryable BatchError with a formatted message.
// If the last argument is an error it becomes the wrapped error and is not used for formatting.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok {
			originalErr = err
			a = a[:len(a)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), originalErr, false, false)
}

// NewSkippableError creates a skippable BatchError classified by kind.
// kind must be a sentinel (usually one registered with RegisterErrorType) so skip
// policies can match it with errors.Is.
func NewSkippableError(module string, kind error, message string) *BatchError {
	return NewBatchError(module, message, kind, true, false)
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Is and errors.As.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable reports whether any BatchError in err's chain is marked skippable.
func IsSkippable(err error) bool {
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsSkippable()
	}
	return false
}

// IsRetryable reports whether any BatchError in err's chain is marked retryable.
func IsRetryable(err error) bool {
	var be *BatchError
	for errors.As(err, &be) {
		if be.IsRetryable() {
			return true
		}
		err = be.OriginalErr
	}
	return false
}

// Classification returns the module of the outermost BatchError in err's chain,
// or "unclassified" when there is none. It is recorded with fatal failures.
func Classification(err error) string {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Module
	}
	return "unclassified"
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

// ErrOptimisticLockingFailure signals a concurrent modification of a persisted execution.
var ErrOptimisticLockingFailure = errors.New("optimistic locking failure")

func init() {
	RegisterErrorType("OptimisticLockingFailure", ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}
