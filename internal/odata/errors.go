package odata

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for caller mistakes such as a non-positive
// batch size or an empty key set passed where a filter is required.
var ErrInvalidArgument = errors.New("invalid argument")

// FetchError reports a transport or HTTP failure.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ProtocolError reports a response body that could not be turned into records.
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TypeDecodeError reports a value whose tag or native type does not match
// what the caller asked for.
type TypeDecodeError struct {
	Op   string
	Want string
	Got  string
	Raw  string
	Err  error
}

func (e *TypeDecodeError) Error() string {
	msg := fmt.Sprintf("%s: want %s, got %s", e.Op, e.Want, e.Got)
	if e.Raw != "" {
		msg += fmt.Sprintf(" (raw %q)", e.Raw)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeDecodeError) Unwrap() error { return e.Err }

// ParseError reports primitive text that is not a valid number or date-time.
type ParseError struct {
	Op  string
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: cannot parse %q: %v", e.Op, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
