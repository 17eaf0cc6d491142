package odata

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02",
}

// legacy JSON date form: /Date(1583366400000)/ or /Date(1583366400000+0300)/
var legacyDate = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// Native returns the primitive as its Go type: string for String and Guid,
// int64 for integers, float64 for Decimal and Double, bool, or time.Time.
func (v Value) Native() (any, error) {
	if v.tag != Primitive {
		return nil, &TypeDecodeError{Op: "native", Want: "primitive", Got: v.describe()}
	}
	switch v.kind {
	case KindString, KindGuid:
		return v.raw, nil
	case KindInt32, KindInt64:
		n, err := strconv.ParseInt(strings.TrimSpace(v.raw), 10, 64)
		if err != nil {
			return nil, &ParseError{Op: "native " + v.kind.String(), Raw: v.raw, Err: err}
		}
		return n, nil
	case KindDecimal, KindDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.raw), 64)
		if err != nil {
			return nil, &ParseError{Op: "native " + v.kind.String(), Raw: v.raw, Err: err}
		}
		return f, nil
	case KindBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(v.raw))
		if err != nil {
			return nil, &ParseError{Op: "native " + v.kind.String(), Raw: v.raw, Err: err}
		}
		return b, nil
	case KindDateTime:
		return parseDateTime("native "+v.kind.String(), v.raw)
	}
	return nil, &TypeDecodeError{Op: "native", Want: "known kind", Got: v.kind.String(), Raw: v.raw}
}

// DecodePrimitive casts a primitive to T using its declared kind. A failed
// cast is a *TypeDecodeError wrapping the underlying *ParseError.
func DecodePrimitive[T any](v Value) (T, error) {
	var zero T
	n, err := v.Native()
	if err != nil {
		var tde *TypeDecodeError
		if errors.As(err, &tde) {
			return zero, err
		}
		return zero, &TypeDecodeError{Op: "decode primitive", Want: typeName[T](), Got: v.describe(), Raw: v.raw, Err: err}
	}
	out, ok := n.(T)
	if !ok {
		return zero, &TypeDecodeError{Op: "decode primitive", Want: typeName[T](), Got: v.describe(), Raw: v.raw}
	}
	return out, nil
}

func typeName[T any]() string {
	var zero T
	switch any(zero).(type) {
	case string:
		return "string"
	case int64:
		return "int64"
	case float64:
		return "float64"
	case bool:
		return "bool"
	case time.Time:
		return "time.Time"
	}
	return "unsupported type"
}

// DecodeString returns the text form of any primitive.
func DecodeString(v Value) (string, error) {
	if v.tag != Primitive {
		return "", &TypeDecodeError{Op: "decode string", Want: "primitive", Got: v.describe()}
	}
	return v.raw, nil
}

// DecodeComposite returns the first member of a composite as a string.
// Members are taken by position, not by name: the server's member order
// decides which field is returned. A null first member decodes to "".
func DecodeComposite(v Value) (string, error) {
	if v.tag != Composite {
		return "", &TypeDecodeError{Op: "decode composite", Want: "composite", Got: v.describe(), Raw: v.raw}
	}
	name, first, ok := v.sub.First()
	if !ok {
		return "", &TypeDecodeError{Op: "decode composite", Want: "at least one member", Got: "empty composite"}
	}
	if first.tag == Unset {
		return "", nil
	}
	if first.tag != Primitive {
		return "", &TypeDecodeError{Op: "decode composite member " + name, Want: "primitive", Got: first.describe()}
	}
	return first.raw, nil
}

// DecodeDate parses a date-time primitive and keeps only the calendar date.
func DecodeDate(v Value) (civil.Date, error) {
	if v.tag != Primitive {
		return civil.Date{}, &TypeDecodeError{Op: "decode date", Want: "primitive", Got: v.describe()}
	}
	t, err := parseDateTime("decode date", v.raw)
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

// DecodeInt parses the primitive's text as a base-10 int.
func DecodeInt(v Value) (int, error) {
	s, err := DecodeString(v)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ParseError{Op: "decode int", Raw: s, Err: err}
	}
	return n, nil
}

// DecodeFloat parses the primitive's text as a float64.
func DecodeFloat(v Value) (float64, error) {
	s, err := DecodeString(v)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &ParseError{Op: "decode float", Raw: s, Err: err}
	}
	return f, nil
}

func parseDateTime(op, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if m := legacyDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, &ParseError{Op: op, Raw: raw, Err: err}
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &ParseError{Op: op, Raw: raw, Err: lastErr}
}
