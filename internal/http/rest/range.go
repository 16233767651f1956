package rest

import (
	"strconv"
	"strings"

	"github.com/italolelis/media_cache/internal/content"
)

// maxChunkSize bounds how many bytes a single stream response may carry.
// Players issue successive range requests; clamping here keeps per-request
// memory bounded even when a client asks for the whole file.
const maxChunkSize int64 = 3 * 1024 * 1024

// byteRange is an inclusive [Start, End] span within a file.
type byteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the span covers.
func (br byteRange) Length() int64 {
	return br.End - br.Start + 1
}

// parseRange parses a "bytes=start-end" Range header against the file's
// current size. Only the first range of a multi-range header is honored.
// Supported forms: "bytes=0-1023", "bytes=100-", "bytes=-500".
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="

	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, &content.RangeError{Header: header, Reason: "unsupported range unit"}
	}

	spec := strings.TrimPrefix(header, prefix)
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}

	spec = strings.TrimSpace(spec)

	start, end, found := strings.Cut(spec, "-")
	if !found {
		return byteRange{}, &content.RangeError{Header: header, Reason: "malformed byte range"}
	}

	if start == "" {
		// Suffix form: the last N bytes of the file.
		suffix, err := strconv.ParseInt(end, 10, 64)
		if err != nil || suffix <= 0 {
			return byteRange{}, &content.RangeError{Header: header, Reason: "malformed suffix range"}
		}

		if suffix > size {
			suffix = size
		}

		return byteRange{Start: size - suffix, End: size - 1}, nil
	}

	startN, err := strconv.ParseInt(start, 10, 64)
	if err != nil || startN < 0 {
		return byteRange{}, &content.RangeError{Header: header, Reason: "malformed range start"}
	}

	if startN >= size {
		return byteRange{}, &content.RangeError{Header: header, Reason: "range start beyond end of file"}
	}

	endN := size - 1

	if end != "" {
		endN, err = strconv.ParseInt(end, 10, 64)
		if err != nil || endN < startN {
			return byteRange{}, &content.RangeError{Header: header, Reason: "malformed range end"}
		}
	}

	return byteRange{Start: startN, End: endN}, nil
}

// clampRange bounds a parsed range to the chunk limit and the end of file:
// end = min(requestedEnd, start+maxChunk-1, size-1).
func clampRange(br byteRange, size int64) byteRange {
	if max := br.Start + maxChunkSize - 1; br.End > max {
		br.End = max
	}

	if br.End > size-1 {
		br.End = size - 1
	}

	return br
}
