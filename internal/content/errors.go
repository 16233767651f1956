package content

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by ledger lookups for keys with no active record.
var ErrNotFound = errors.New("content not found")

// DaemonError represents a transport failure talking to the torrent daemon:
// the request never produced an HTTP response (connection refused, timeout).
type DaemonError struct {
	Operation string // the daemon call that failed, e.g. "add_torrent"
	Err       error
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("torrent daemon unreachable during %s: %v", e.Operation, e.Err)
}

func (e *DaemonError) Unwrap() error {
	return e.Err
}

// BadResponseError represents a daemon response we cannot act on: a non-2xx
// status, unparsable JSON, or a body missing required fields.
type BadResponseError struct {
	Operation  string
	StatusCode int // 0 when the response decoded but was semantically invalid
	Reason     string
	Err        error
}

func (e *BadResponseError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("bad daemon response during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("bad daemon response during %s: %s", e.Operation, e.Reason)
}

func (e *BadResponseError) Unwrap() error {
	return e.Err
}

// NoPlayableFileError means the torrent manifest contains no file with a
// known video extension; there is nothing we could ever stream.
type NoPlayableFileError struct {
	Files []string
}

func (e *NoPlayableFileError) Error() string {
	return fmt.Sprintf("no playable video file in torrent manifest (%d files: %s)",
		len(e.Files), strings.Join(e.Files, ", "))
}

// CleanupError represents a filesystem removal failure after the daemon-side
// delete already succeeded. The daemon resource is reclaimed; disk space is
// not, and may be retried out of band.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("failed to remove content directory %s: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// RangeError represents a missing, malformed, or out-of-bounds Range header
// on a stream request. Always client-facing.
type RangeError struct {
	Header string
	Reason string
}

func (e *RangeError) Error() string {
	if e.Header == "" {
		return "range error: " + e.Reason
	}

	return fmt.Sprintf("range error for %q: %s", e.Header, e.Reason)
}
