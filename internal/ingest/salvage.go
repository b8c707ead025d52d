package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrNothingSalvaged is returned when no complete element precedes the
// truncation point.
var ErrNothingSalvaged = errors.New("no complete array element could be salvaged")

// SalvageArray recovers the complete leading elements of the JSON array held
// under field in a possibly truncated document. With an empty field the
// document itself must be an array. Elements after the last complete object
// boundary are discarded.
func SalvageArray(raw []byte, field string) ([]json.RawMessage, error) {
	start := arrayStart(raw, field)
	if start < 0 {
		return nil, ErrNothingSalvaged
	}

	dec := json.NewDecoder(bytes.NewReader(raw[start:]))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return nil, ErrNothingSalvaged
	}

	var out []json.RawMessage
	for dec.More() {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			break
		}
		out = append(out, elem)
	}

	if len(out) == 0 {
		return nil, ErrNothingSalvaged
	}
	return out, nil
}

// arrayStart returns the offset of the '[' opening the array under field.
func arrayStart(raw []byte, field string) int {
	if field == "" {
		i := skipSpace(raw, 0)
		if i < len(raw) && raw[i] == '[' {
			return i
		}
		return -1
	}

	key := []byte(`"` + field + `"`)
	offset := 0
	for {
		idx := bytes.Index(raw[offset:], key)
		if idx < 0 {
			return -1
		}
		i := skipSpace(raw, offset+idx+len(key))
		if i < len(raw) && raw[i] == ':' {
			i = skipSpace(raw, i+1)
			if i < len(raw) && raw[i] == '[' {
				return i
			}
		}
		offset += idx + len(key)
	}
}

func skipSpace(raw []byte, i int) int {
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}
