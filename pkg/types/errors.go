package types

import "fmt"

// ParseError occurs when JSON input is malformed or matches no data type
// variant.
type ParseError struct {
	// Path is the location of the offending value, e.g. "fields[1].type"
	Path string
	Msg  string
	Err  error
}

// Error returns a textual representation of this ParseError
func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("parse schema: %s: %v", msg, e.Err)
	}
	return "parse schema: " + msg
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Err }

// ConversionError occurs when a schema cannot be mapped to a downstream
// columnar type.
type ConversionError struct {
	// Path is the dotted column path being converted
	Path string
	Msg  string
	Err  error
}

// Error returns a textual representation of this ConversionError
func (e *ConversionError) Error() string {
	msg := e.Msg
	if e.Path != "" {
		msg = fmt.Sprintf("column %q: %s", e.Path, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("convert schema: %s: %v", msg, e.Err)
	}
	return "convert schema: " + msg
}

// Unwrap returns the underlying cause.
func (e *ConversionError) Unwrap() error { return e.Err }

// CheckpointReadError occurs when a binary checkpoint cannot be read or does
// not carry the expected columns.
type CheckpointReadError struct {
	// Source names the checkpoint being read
	Source string
	Err    error
}

// Error returns a textual representation of this CheckpointReadError
func (e *CheckpointReadError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("read checkpoint %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("read checkpoint: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *CheckpointReadError) Unwrap() error { return e.Err }

func parseErrorf(path, format string, args ...interface{}) *ParseError {
	return &ParseError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
