package content

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// videoExtensions are the container formats the daemon can hand us that we
// know how to serve. Order matters: selection is first-match over the
// manifest, which keeps file picking deterministic.
var videoExtensions = []string{".mp4", ".mkv", ".flv", ".avi", ".mov", ".wmv"}

// Key identifies one downloadable item: a movie on a given source catalog.
type Key struct {
	MovieID string
	Source  string
}

func (k Key) String() string {
	return k.MovieID + ":" + k.Source
}

// Record is one ledger row: an active (or recently active) download.
// Records are immutable once created; replacing content for a key means
// tearing the old record down and inserting a new one.
type Record struct {
	ID        uuid.UUID
	Key       Key
	TorrentID int64
	FilePath  string
	MediaType string
	CreatedAt time.Time
}

// NewRecord builds a Record for a freshly started download.
func NewRecord(key Key, torrentID int64, filePath, mediaType string) *Record {
	return &Record{
		ID:        uuid.New(),
		Key:       key,
		TorrentID: torrentID,
		FilePath:  filePath,
		MediaType: mediaType,
		CreatedAt: time.Now().UTC(),
	}
}

// IsVideoFile reports whether name has a known playable container extension.
func IsVideoFile(name string) bool {
	for _, ext := range videoExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return false
}

// SelectPlayableFile picks the file to stream from a torrent manifest.
// The first name with a known video extension wins.
func SelectPlayableFile(names []string) (string, error) {
	for _, name := range names {
		if IsVideoFile(name) {
			return name, nil
		}
	}

	return "", &NoPlayableFileError{Files: names}
}

// MediaTypeOf returns the container type of a file name, e.g. "mp4" for
// "movie.mp4". The result feeds the video/{type} response content type.
func MediaTypeOf(name string) string {
	return strings.TrimPrefix(filepath.Ext(strings.TrimSpace(name)), ".")
}

// LedgerReader reads content records by key.
type LedgerReader interface {
	Get(ctx context.Context, key Key) (*Record, error)
}

// LedgerWriter mutates the ledger. Insert fails on a duplicate key; Delete
// of an absent key returns ErrNotFound.
type LedgerWriter interface {
	Insert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key Key) error
}

// Ledger is the system of record for which content exists on disk.
type Ledger interface {
	LedgerReader
	LedgerWriter
	All(ctx context.Context) ([]*Record, error)
}

// ValidateKey rejects keys that cannot form a ledger row or a job id.
func ValidateKey(key Key) error {
	if key.MovieID == "" {
		return fmt.Errorf("movie_id must not be empty")
	}

	if key.Source == "" {
		return fmt.Errorf("source must not be empty")
	}

	return nil
}
