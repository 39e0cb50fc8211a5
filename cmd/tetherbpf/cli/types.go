package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// TagValue wraps a uint32 socket tag with hex support.
type TagValue struct {
	Value uint32
}

// ParseTagValue parses a tag from string, supporting hex (0x) prefix.
func ParseTagValue(s string) (TagValue, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TagValue{}, fmt.Errorf("tag cannot be empty")
	}

	var val uint64
	var err error

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		val, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		val, err = strconv.ParseUint(s, 10, 32)
	}

	if err != nil {
		return TagValue{}, fmt.Errorf("invalid tag %q: %w", s, err)
	}

	return TagValue{Value: uint32(val)}, nil
}
