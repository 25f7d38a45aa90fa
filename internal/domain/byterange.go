package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrRangeNotSatisfiable is returned for a well-formed range that lies
// outside the file.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// ByteRange is an inclusive span of a file.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ContentRange formats the Content-Range header value.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange interprets a "bytes=<start>-<end>" header against a file of size bytes.
//
// ok is false when the header is absent or malformed; such requests get the
// whole file. Suffix ranges ("bytes=-N") and multiple ranges count as malformed.
// An end beyond the file is clamped. A start at or past the end of the file,
// or an end before the start, yields ErrRangeNotSatisfiable.
func ParseRange(header string, size int64) (r ByteRange, ok bool, err error) {
	set, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(set, ",") {
		return ByteRange{}, false, nil
	}
	startStr, endStr, found := strings.Cut(strings.TrimSpace(set), "-")
	if !found || startStr == "" {
		return ByteRange{}, false, nil
	}

	start, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil || start < 0 {
		return ByteRange{}, false, nil
	}

	end := size - 1
	if endStr != "" {
		end, perr = strconv.ParseInt(endStr, 10, 64)
		if perr != nil || end < 0 {
			return ByteRange{}, false, nil
		}
	}

	if start >= size || end < start {
		return ByteRange{}, true, ErrRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, true, nil
}
