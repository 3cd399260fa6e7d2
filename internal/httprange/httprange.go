package httprange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrUnsatisfiable indicates a Range header that cannot be satisfied against
// the resource: start past the end of the file, or end before start. Callers
// should answer 416 with a "bytes */<size>" Content-Range rather than clamp.
var ErrUnsatisfiable = errors.New("unsatisfiable byte range")

var rangeSpec = regexp.MustCompile(`(\d*)-(\d*)`)

// Range is a concrete byte window against a known resource size. End is
// inclusive, matching Content-Range semantics.
type Range struct {
	Start  uint64
	End    uint64
	Length uint64
}

// Parse resolves a Range request header into a concrete window.
//
// An absent header is treated as a request for the first defaultLength bytes
// capped at size: streaming clients always send explicit ranges, and buffering
// a whole multi-gigabyte file for the ones that don't is not acceptable.
// When the header names a start but no end, the window extends defaultLength
// bytes and is clamped to the end of the resource.
func Parse(size uint64, header string, defaultLength uint64) (Range, error) {
	if size == 0 {
		return Range{}, fmt.Errorf("%w: empty resource", ErrUnsatisfiable)
	}
	if defaultLength == 0 {
		defaultLength = size
	}

	var start uint64
	var end uint64
	haveEnd := false

	if header != "" {
		m := rangeSpec.FindStringSubmatch(header)
		if m == nil {
			return Range{}, fmt.Errorf("%w: malformed header %q", ErrUnsatisfiable, header)
		}
		var err error
		if m[1] != "" {
			if start, err = strconv.ParseUint(m[1], 10, 64); err != nil {
				return Range{}, fmt.Errorf("%w: malformed header %q", ErrUnsatisfiable, header)
			}
		}
		if m[2] != "" {
			if end, err = strconv.ParseUint(m[2], 10, 64); err != nil {
				return Range{}, fmt.Errorf("%w: malformed header %q", ErrUnsatisfiable, header)
			}
			haveEnd = true
		}
	}

	if start >= size {
		return Range{}, fmt.Errorf("%w: start %d beyond size %d", ErrUnsatisfiable, start, size)
	}

	if !haveEnd {
		end = start + defaultLength
		if end > size {
			end = size
		}
		end--
	} else if end >= size {
		end = size - 1
	}

	if end < start {
		return Range{}, fmt.Errorf("%w: end %d before start %d", ErrUnsatisfiable, end, start)
	}

	return Range{Start: start, End: end, Length: end - start + 1}, nil
}

// ContentRange renders the window as a Content-Range header value.
func (r Range) ContentRange(size uint64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// Unsatisfiable renders the Content-Range value that accompanies a 416.
func Unsatisfiable(size uint64) string {
	return fmt.Sprintf("bytes */%d", size)
}
