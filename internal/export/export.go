// Package export turns the rendered diagram into downloadable files.
package export

import (
	"errors"
	"fmt"
)

var (
	ErrNoContent      = errors.New("there is no rendered diagram to export")
	ErrZeroDimensions = errors.New("the diagram has no measurable size")
	ErrDecode         = errors.New("the diagram could not be decoded as an image")
	ErrTainted        = errors.New("the diagram references external resources; remove external images or fonts and try again")
)

// File is a finished export, ready to be sent to the user.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ExportError reports a failed export. Err is one of the sentinel errors above,
// possibly wrapped with detail.
type ExportError struct {
	Format string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("%s export failed: %v", e.Format, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

func fail(format string, err error) error {
	return &ExportError{Format: format, Err: err}
}
