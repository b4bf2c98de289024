package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	// Pipeline taxonomy.
	ErrConversion        = errors.New("page conversion failed")
	ErrExtractionTimeout = errors.New("extraction timeout")
	ErrExtractionServer  = errors.New("extraction server error")
	ErrSessionExpired    = errors.New("session expired")
	ErrMergeSkip         = errors.New("merge skipped")
	ErrBatchFailed       = errors.New("batch failed")
	ErrBatchCancelled    = errors.New("batch cancelled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ConversionError reports that a file could not be split into pages.
// Pages of a failed file are never partially emitted.
type ConversionError struct {
	Filename string
	Err      error
}

func (e *ConversionError) Error() string {
	if e == nil {
		return "conversion error"
	}
	return fmt.Sprintf("convert %q to pages: %v", e.Filename, e.Err)
}

func (e *ConversionError) Unwrap() []error {
	return []error{ErrConversion, e.Err}
}

// MergeSkipError names the entity of a page payload that was dropped.
type MergeSkipError struct {
	Entity string
	Err    error
}

func (e *MergeSkipError) Error() string {
	return fmt.Sprintf("merge %s: %v", e.Entity, e.Err)
}

func (e *MergeSkipError) Unwrap() []error {
	return []error{ErrMergeSkip, e.Err}
}

// BatchFailedError is returned when every page in a batch failed.
type BatchFailedError struct {
	Failed int
	Total  int
	Cause  error
}

func (e *BatchFailedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%d of %d pages failed", e.Failed, e.Total)
	}
	return fmt.Sprintf("%d of %d pages failed: %v", e.Failed, e.Total, e.Cause)
}

func (e *BatchFailedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrBatchFailed}
	}
	return []error{ErrBatchFailed, e.Cause}
}
