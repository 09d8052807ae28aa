// Package jsontime provides a time.Duration that reads and writes
// human-readable strings ("250ms", "2s") in JSON and YAML documents.
package jsontime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that serializes as its string form. When
// decoding it accepts either a duration string or an integer number of
// nanoseconds.
type Duration time.Duration

// Of converts a time.Duration.
func Of(d time.Duration) Duration {
	return Duration(d)
}

// Duration returns the underlying time.Duration. A nil receiver yields 0.
func (d *Duration) Duration() time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

// String returns the duration formatted as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// IsZero reports whether d is zero.
func (d Duration) IsZero() bool {
	return d == 0
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	return d.parse(string(b))
}

// MarshalYAML implements the goccy/go-yaml InterfaceMarshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements the goccy/go-yaml BytesUnmarshaler.
func (d *Duration) UnmarshalYAML(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" || s == "~" {
		return nil
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if n := len(s); n >= 2 && (s[0] == '"' && s[n-1] == '"' || s[0] == '\'' && s[n-1] == '\'') {
		s = s[1 : n-1]
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(v)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("jsontime: invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}
