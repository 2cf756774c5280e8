package pointerpath

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedPath is returned when a human-entered path does not follow the grammar
var ErrMalformedPath = errors.New("malformed pointer path")

var baseRe = regexp.MustCompile(`^["']?(.+?\.(?i:exe))["']?\s*\+\s*(?:0[xX])?([0-9A-Fa-f]+)$`)

// Parse reads a path written as
//
//	"<module>.exe"+<hexBase>, <hexOffset1>, <hexOffset2>, ...
//
// Offsets may carry a 0x prefix. Parsing is all or nothing: one bad offset
// rejects the whole path.
func Parse(input string) (PointerPath, error) {
	parts := strings.Split(strings.TrimSpace(input), ",")

	m := baseRe.FindStringSubmatch(strings.TrimSpace(parts[0]))
	if m == nil {
		return PointerPath{}, fmt.Errorf("%w: base %q must be \"<module>.exe\"+<hex>", ErrMalformedPath, parts[0])
	}

	base, err := strconv.ParseInt(m[2], 16, 64)
	if err != nil {
		return PointerPath{}, fmt.Errorf("%w: base offset %q: %v", ErrMalformedPath, m[2], err)
	}

	path := PointerPath{
		ModuleName: m[1],
		BaseOffset: base,
		Offsets:    make([]int32, 0, len(parts)-1),
	}

	for i, part := range parts[1:] {
		off, err := parseOffset(part)
		if err != nil {
			return PointerPath{}, fmt.Errorf("%w: offset %d %q: %v", ErrMalformedPath, i+1, strings.TrimSpace(part), err)
		}
		path.Offsets = append(path.Offsets, off)
	}

	return path, nil
}

func parseOffset(s string) (int32, error) {
	s = strings.TrimSpace(s)

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if s == "" {
		return 0, errors.New("empty offset")
	}

	// 32-bit values above 0x7FFFFFFF wrap to negative, as two's complement
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	if neg {
		if v > 1<<31 {
			return 0, errors.New("offset out of range")
		}
		return int32(-int64(v)), nil
	}
	return int32(uint32(v)), nil
}
