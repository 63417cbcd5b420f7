// ABOUTME: JSON-RPC request identifier that is either a string or a 64-bit integer
// ABOUTME: Preserves the wire kind so responses echo the caller's id exactly

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrInvalidID is returned when an id is neither a string nor an integer.
var ErrInvalidID = errors.New("id must be a string or integer")

// ID is a JSON-RPC request identifier.
type ID struct {
	str   string
	num   int64
	isStr bool
}

// StringID returns a string identifier.
func StringID(s string) ID {
	return ID{str: s, isStr: true}
}

// IntID returns an integer identifier.
func IntID(n int64) ID {
	return ID{num: n}
}

// IsString reports whether the id was a JSON string.
func (id ID) IsString() bool { return id.isStr }

// Int returns the integer value and whether the id is an integer.
func (id ID) Int() (int64, bool) {
	if id.isStr {
		return 0, false
	}
	return id.num, true
}

// String renders the id for logging and map keys. String ids are quoted so
// that "1" and 1 never collide.
func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// Key is a comparable representation used for correlation maps.
func (id ID) Key() string {
	return id.String()
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler. Fractional numbers, booleans,
// objects and arrays are rejected.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrInvalidID
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidID
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return ErrInvalidID
	}
	*id = IntID(n)
	return nil
}
