package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// ByteRange is an inclusive span of an artifact, as requested by a
// resuming download or a seeking video element.
type ByteRange struct {
	First int64
	Last  int64
}

func (r ByteRange) Length() int64 {
	return r.Last - r.First + 1
}

// Header renders the Content-Range value for a file of total bytes.
func (r ByteRange) Header(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.First, r.Last, total)
}

// ParseRange reads a Range header. ok is false when the header is empty or
// malformed, in which case the whole file is served. Only the first span of
// a multi-range request is honored.
func ParseRange(header string, size int64) (r ByteRange, ok bool, err error) {
	if header == "" {
		return ByteRange{}, false, nil
	}
	set, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return ByteRange{}, false, ErrInvalidRange
	}
	set, _, _ = strings.Cut(set, ",")
	first, last, found := strings.Cut(strings.TrimSpace(set), "-")
	if !found {
		return ByteRange{}, false, ErrInvalidRange
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false, ErrInvalidRange
		}
		return ByteRange{First: max(size-n, 0), Last: size - 1}, true, nil
	}

	r.First, err = strconv.ParseInt(first, 10, 64)
	if err != nil || r.First < 0 {
		return ByteRange{}, false, ErrInvalidRange
	}
	r.Last = size - 1
	if last != "" {
		end, err := strconv.ParseInt(last, 10, 64)
		if err != nil {
			return ByteRange{}, false, ErrInvalidRange
		}
		if end < r.First {
			return ByteRange{}, false, ErrUnsatisfiable
		}
		r.Last = min(end, size-1)
	}
	if r.First >= size {
		return ByteRange{}, false, ErrUnsatisfiable
	}
	return r, true, nil
}
