package model

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldTag is the parsed form of a `doc` struct tag.
type fieldTag struct {
	Key      string
	Required bool
	MinLen   int
	MaxLen   int
	Skip     bool
}

// parseTag parses `doc:"<key>[,required][,minlen=N][,maxlen=N]"`. An empty
// key keeps the Go field name; "-" skips the field.
func parseTag(tag string) (fieldTag, error) {
	if tag == "-" {
		return fieldTag{Skip: true}, nil
	}
	parts := strings.Split(tag, ",")
	ft := fieldTag{Key: strings.TrimSpace(parts[0])}
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "required":
			ft.Required = true
		case strings.HasPrefix(part, "minlen="):
			n, err := parseLen(part, "minlen=")
			if err != nil {
				return fieldTag{}, err
			}
			ft.MinLen = n
		case strings.HasPrefix(part, "maxlen="):
			n, err := parseLen(part, "maxlen=")
			if err != nil {
				return fieldTag{}, err
			}
			ft.MaxLen = n
		default:
			return fieldTag{}, fmt.Errorf("unknown tag option %q", part)
		}
	}
	if ft.MaxLen > 0 && ft.MinLen > ft.MaxLen {
		return fieldTag{}, fmt.Errorf("minlen %d exceeds maxlen %d", ft.MinLen, ft.MaxLen)
	}
	return ft, nil
}

func parseLen(part, prefix string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(part, prefix))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s value in %q", strings.TrimSuffix(prefix, "="), part)
	}
	return n, nil
}
