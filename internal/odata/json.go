package odata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const typeAnnotation = "@odata.type"

// DecodeEntitySet reads an entity collection payload, either
// {"value":[...]} or {"d":{"results":[...]}}, keeping member order of every
// object.
func DecodeEntitySet(r io.Reader) ([]*Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var (
		records []*Record
		found   bool
	)
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "value", "results":
			records, err = decodeArray(dec)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			found = true
		case "d":
			records, err = decodeVerboseEnvelope(dec)
			if err != nil {
				return nil, fmt.Errorf("d: %w", err)
			}
			found = true
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("skip %s: %w", key, err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("payload has no entity collection")
	}
	return records, nil
}

func decodeVerboseEnvelope(dec *json.Decoder) ([]*Record, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('['):
		return decodeArrayBody(dec)
	case json.Delim('{'):
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
	var records []*Record
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		if key != "results" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}
		if records, err = decodeArray(dec); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if records == nil {
		return nil, errors.New("verbose envelope has no results")
	}
	return records, nil
}

func decodeArray(dec *json.Decoder) ([]*Record, error) {
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	return decodeArrayBody(dec)
}

func decodeArrayBody(dec *json.Decoder) ([]*Record, error) {
	records := make([]*Record, 0)
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("entity %d: %w", len(records), err)
		}
		rec, err := decodeObjectBody(dec)
		if err != nil {
			return nil, fmt.Errorf("entity %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return records, nil
}

// decodeObjectBody reads members after the opening brace through the closing one.
func decodeObjectBody(dec *json.Decoder) (*Record, error) {
	rec := NewRecord()
	annotations := make(map[string]Kind)
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		if name, ok := strings.CutSuffix(key, typeAnnotation); ok && name != "" {
			var typ string
			if err := dec.Decode(&typ); err != nil {
				return nil, fmt.Errorf("annotation %s: %w", key, err)
			}
			if k, ok := ParseKind(typ); ok {
				annotations[name] = k
			}
			continue
		}
		if isControlMember(key) {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("skip %s: %w", key, err)
			}
			continue
		}
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		v, err := decodeValue(dec, tok)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		rec.Set(key, v)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	for name, k := range annotations {
		if v := rec.Get(name); v.tag == Primitive {
			rec.Set(name, PrimitiveValue(k, v.raw))
		}
	}
	return rec, nil
}

func decodeValue(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Value{}, nil
	case string:
		return PrimitiveValue(KindString, t), nil
	case bool:
		return PrimitiveValue(KindBoolean, strconv.FormatBool(t)), nil
	case json.Number:
		s := t.String()
		if strings.ContainsAny(s, ".eE") {
			return PrimitiveValue(KindDecimal, s), nil
		}
		return PrimitiveValue(KindInt64, s), nil
	case json.Delim:
		switch t {
		case '{':
			sub, err := decodeObjectBody(dec)
			if err != nil {
				return Value{}, err
			}
			return CompositeValue(sub), nil
		case '[':
			sub := NewRecord()
			for i := 0; dec.More(); i++ {
				next, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				v, err := decodeValue(dec, next)
				if err != nil {
					return Value{}, fmt.Errorf("[%d]: %w", i, err)
				}
				sub.Set(strconv.Itoa(i), v)
			}
			if err := expectDelim(dec, ']'); err != nil {
				return Value{}, err
			}
			return CompositeValue(sub), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func isControlMember(key string) bool {
	return strings.HasPrefix(key, "odata.") || strings.HasPrefix(key, "@odata.") || key == "__metadata"
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected member name, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
