package staticfile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ByteWindow is the half-open range [Start, End) of a resource selected for
// transmission. Windows computed from client input are not clamped to the
// resource, so End may exceed the total or fall below Start.
type ByteWindow struct {
	Start int64
	End   int64
}

// Len is the number of bytes the window promises, never negative.
func (w ByteWindow) Len() int64 {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

// ContentRange formats the Content-Range header value for a resource of total bytes.
func (w ByteWindow) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", w.Start, w.End, total)
}

const rangeUnitPrefix = "bytes="

// ParseRange turns a Range header value into a window over total bytes.
//
// partial reports whether the response must be sent as partial content. It is
// true for every successfully parsed header, even one covering the whole
// resource. An absent header and the degenerate "bytes=-" both select the
// full resource. On ErrMalformedRange the full window is still returned so
// callers can fall back to a complete response.
func ParseRange(header string, total int64) (window ByteWindow, partial bool, err error) {
	full := ByteWindow{Start: 0, End: total}

	header = strings.TrimSpace(header)
	if header == "" {
		return full, false, nil
	}
	if len(header) < len(rangeUnitPrefix) || !strings.EqualFold(header[:len(rangeUnitPrefix)], rangeUnitPrefix) {
		return full, false, fmt.Errorf("%w: unsupported unit in %q", ErrMalformedRange, header)
	}

	startStr, endStr, found := strings.Cut(header[len(rangeUnitPrefix):], "-")
	if !found {
		return full, false, fmt.Errorf("%w: missing '-' in %q", ErrMalformedRange, header)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	switch {
	case startStr == "" && endStr == "":
		return full, false, nil

	case startStr == "":
		suffix, err := parseOffset(endStr)
		if err != nil {
			return full, false, fmt.Errorf("%w: %q: %v", ErrMalformedRange, header, err)
		}
		return ByteWindow{Start: total - min(total, suffix), End: total}, true, nil

	default:
		start, err := parseOffset(startStr)
		if err != nil {
			return full, false, fmt.Errorf("%w: %q: %v", ErrMalformedRange, header, err)
		}
		if endStr == "" {
			return ByteWindow{Start: start, End: total}, true, nil
		}
		last, err := parseOffset(endStr)
		if err != nil {
			return full, false, fmt.Errorf("%w: %q: %v", ErrMalformedRange, header, err)
		}
		if last == math.MaxInt64 {
			return full, false, fmt.Errorf("%w: %q: end offset overflows", ErrMalformedRange, header)
		}
		return ByteWindow{Start: start, End: last + 1}, true, nil
	}
}

// parseOffset accepts only unsigned decimal digits.
func parseOffset(s string) (int64, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("offset %q is not a decimal number", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
