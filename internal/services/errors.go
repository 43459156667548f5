package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrGenerationInFlight rejects an operation while a generation is outstanding.
var ErrGenerationInFlight = errors.New("a diagram is already being generated")

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "Validation error"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, msg := range e.Fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

// TooLargeError rejects an attachment over the configured size limit.
type TooLargeError struct {
	Message string
	Limit   int64
}

func (e *TooLargeError) Error() string { return e.Message }

// NewTooLargeError describes the limit in the units a user would pick a file by.
func NewTooLargeError(limit int64) *TooLargeError {
	size := fmt.Sprintf("%d MB", limit/(1024*1024))
	if limit < 1024*1024 {
		size = fmt.Sprintf("%d KB", (limit+1023)/1024)
	}
	return &TooLargeError{
		Message: "File is too large. The maximum size is " + size + ".",
		Limit:   limit,
	}
}

// GenerationError is a failed upstream generation. Message is safe to show to the user.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string { return e.Message }

func (e *GenerationError) Unwrap() error { return e.Err }
