package models

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned when admission control rejects a submission.
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrJobNotFound = errors.New("document not found")
	// ErrNotCompleted is the conflict returned for downloads before COMPLETED.
	ErrNotCompleted = errors.New("document conversion not completed")
)

// ValidationError collects every problem found in a submission.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (v *ValidationError) Add(field, message string) {
	v.Errors = append(v.Errors, fmt.Errorf("%s: %s", field, message))
}

func (v *ValidationError) HasError() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return errors.Join(v.Errors...).Error()
}

// ConversionError is a failure the job records as its FAILED message.
type ConversionError struct {
	Message string
	Err     error
}

func NewConversionError(format string, args ...any) *ConversionError {
	return &ConversionError{Message: fmt.Sprintf(format, args...)}
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// StorageError marks an unavailable artifact store, record store or broker.
// On the consumer path it is propagated so the broker redelivers.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
