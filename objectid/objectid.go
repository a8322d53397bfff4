// Package objectid provides the 12-byte identifier used as the primary key of
// every stored document.
package objectid

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Size is the length of an ID in bytes.
const Size = 12

// HexLen is the length of the canonical hexadecimal form of an ID.
const HexLen = 2 * Size

// ErrMalformed is returned when a string is not a valid ID.
var ErrMalformed = errors.New("malformed identifier")

// ID is a globally unique, time-sortable 12-byte identifier.
type ID [Size]byte

// Nil is the zero ID. It is never assigned to a stored document.
var Nil ID

// ParseError describes a string that could not be parsed as an ID.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrMalformed, e.Input, e.Reason)
}

// Unwrap makes errors.Is(err, ErrMalformed) hold.
func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

// New returns a fresh ID. The first four bytes are the big-endian creation
// time in seconds, so IDs generated later never sort before earlier ones from
// the same clock.
func New() ID {
	return ID(xid.New())
}

// Parse decodes the 24-character hexadecimal form of an ID.
// Upper and lower case digits are accepted.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != HexLen {
		return Nil, &ParseError{Input: s, Reason: fmt.Sprintf("expected %d hex characters, got %d", HexLen, len(s))}
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Nil, &ParseError{Input: s, Reason: "invalid hex character"}
	}
	return id, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsValid reports whether s is a well-formed ID string.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// FromBytes copies b into an ID. b must be exactly Size bytes long.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Nil, &ParseError{Input: hex.EncodeToString(b), Reason: fmt.Sprintf("expected %d bytes, got %d", Size, len(b))}
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// String returns the canonical lowercase hexadecimal form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Hex is an alias for String.
func (id ID) Hex() string {
	return id.String()
}

// IsZero reports whether id is the Nil ID.
func (id ID) IsZero() bool {
	return id == Nil
}

// Timestamp returns the creation time encoded in the ID, at second precision.
func (id ID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Compare orders IDs bytewise, which is also creation order at second granularity.
func Compare(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText encodes the ID as its hexadecimal form.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes the hexadecimal form.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
