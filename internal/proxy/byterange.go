package proxy

import (
	"strconv"
	"strings"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
)

// parseByteRange parses a single-range "bytes=start-end" header against
// size, the same single-range subset of RFC 7233 the local driver
// implements; the proxy needs its own copy so it can compute
// Content-Range itself rather than trusting whatever a given driver's
// FetchRange happens to return.
func parseByteRange(header string, size int64) (start, end int64, err error) {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "bytes=")
	if strings.Contains(header, ",") {
		return 0, 0, errors.Validation("proxy", "multi-range requests are not supported")
	}

	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Validation("proxy", "malformed range header")
	}

	if parts[0] == "" {
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil {
			return 0, 0, errors.Validation("proxy", "malformed range header")
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil
	}

	start, serr := strconv.ParseInt(parts[0], 10, 64)
	if serr != nil {
		return 0, 0, errors.Validation("proxy", "malformed range header")
	}
	if parts[1] == "" {
		return start, size - 1, nil
	}
	end, eerr := strconv.ParseInt(parts[1], 10, 64)
	if eerr != nil {
		return 0, 0, errors.Validation("proxy", "malformed range header")
	}
	if end >= size {
		end = size - 1
	}
	if start > end {
		return 0, 0, errors.Validation("proxy", "range start past range end")
	}
	return start, end, nil
}
