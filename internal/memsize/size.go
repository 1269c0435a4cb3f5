// Package memsize provides a parsed, comparable byte-size value type used
// throughout the instance data model for memory and disk capacities.
package memsize

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is a byte count. It marshals to/from the compact human suffixes
// multipass-style configuration accepts ("1G", "512M", "2048MiB") and
// compares directly as an int64 count of bytes.
type Size int64

const (
	KiB Size = 1 << 10
	MiB Size = 1 << 20
	GiB Size = 1 << 30
	TiB Size = 1 << 40
)

// suffix table, longest-match first so "GiB" is tried before "G".
var suffixes = []struct {
	suffix string
	unit   Size
}{
	{"KiB", KiB}, {"MiB", MiB}, {"GiB", GiB}, {"TiB", TiB},
	{"K", KiB}, {"M", MiB}, {"G", GiB}, {"T", TiB},
	{"kb", KiB}, {"mb", MiB}, {"gb", GiB}, {"tb", TiB},
	{"k", KiB}, {"m", MiB}, {"g", GiB}, {"t", TiB},
	{"B", 1}, {"", 1},
}

// Parse parses a human size string such as "1G", "512MiB", "10485760"
// (bare bytes) into a Size. A value with a unit suffix may be fractional
// ("1.5G") and is truncated to whole bytes; a bare byte count must be an
// integer.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("memsize: empty size string")
	}

	for _, suf := range suffixes {
		if suf.suffix == "" {
			continue
		}
		if strings.HasSuffix(trimmed, suf.suffix) {
			numPart := strings.TrimSuffix(trimmed, suf.suffix)
			numPart = strings.TrimSpace(numPart)
			if numPart == "" {
				continue
			}
			val, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				continue
			}
			if val < 0 {
				return 0, fmt.Errorf("memsize: negative size %q", s)
			}
			return Size(val * float64(suf.unit)), nil
		}
	}

	// Bare integer bytes.
	val, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memsize: invalid size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("memsize: negative size %q", s)
	}
	return Size(val), nil
}

// MustParse is like Parse but panics on error; intended for tests and
// constant definitions.
func MustParse(s string) Size {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the size using the largest whole unit that divides it
// evenly, falling back to bytes.
func (s Size) String() string {
	switch {
	case s != 0 && s%int64(TiB) == 0:
		return fmt.Sprintf("%dTiB", int64(s)/int64(TiB))
	case s != 0 && s%int64(GiB) == 0:
		return fmt.Sprintf("%dGiB", int64(s)/int64(GiB))
	case s != 0 && s%int64(MiB) == 0:
		return fmt.Sprintf("%dMiB", int64(s)/int64(MiB))
	case s != 0 && s%int64(KiB) == 0:
		return fmt.Sprintf("%dKiB", int64(s)/int64(KiB))
	default:
		return fmt.Sprintf("%dB", int64(s))
	}
}

// Bytes returns the raw byte count.
func (s Size) Bytes() int64 { return int64(s) }

// MarshalJSON encodes the size as its human string form.
func (s Size) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON decodes either a human string form or a bare JSON number
// of bytes.
func (s *Size) UnmarshalJSON(data []byte) error {
	str := strings.TrimSpace(string(data))
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		unquoted, err := strconv.Unquote(str)
		if err != nil {
			return fmt.Errorf("memsize: %w", err)
		}
		parsed, err := Parse(unquoted)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("memsize: invalid numeric size %q: %w", str, err)
	}
	*s = Size(val)
	return nil
}

// MarshalYAML encodes the size as its human string form.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML decodes a YAML scalar into a Size.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" {
		*s = 0
		return nil
	}
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*s = Size(n)
		return nil
	}
	parsed, err := Parse(node.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AtLeast reports whether s is greater than or equal to min.
func (s Size) AtLeast(min Size) bool { return s >= min }
