package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_cache/internal/content"
	"github.com/italolelis/media_cache/internal/logctx"
	"github.com/italolelis/media_cache/internal/telemetry"
)

// TorrentDaemon is the slice of the daemon client the handler drives.
type TorrentDaemon interface {
	Download(ctx context.Context, key content.Key, magnet, outputDir string) (*content.Record, error)
	Delete(ctx context.Context, torrentID int64, filePath string) error
}

// Rescheduler resets or cancels the eviction countdown for a key.
type Rescheduler interface {
	Schedule(key content.Key)
	Cancel(key content.Key)
}

// ContentHandler serves the cache's HTTP surface: starting downloads,
// explicit deletes, and ranged streaming.
type ContentHandler struct {
	ledger      content.Ledger
	daemon      TorrentDaemon
	scheduler   Rescheduler
	downloadDir string
	telemetry   *telemetry.Telemetry
}

// NewContentHandler creates a new content handler.
func NewContentHandler(ledger content.Ledger, daemon TorrentDaemon, scheduler Rescheduler, downloadDir string, t *telemetry.Telemetry) *ContentHandler {
	return &ContentHandler{
		ledger:      ledger,
		daemon:      daemon,
		scheduler:   scheduler,
		downloadDir: downloadDir,
		telemetry:   t,
	}
}

func (h *ContentHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/movies/torrent", h.HandleDownload)
	r.Delete("/movies/delete/{movie_id}/{source}", h.HandleDelete)
	r.Get("/movies/stream/{source}/{movie_id}/{quality}", h.HandleStream)

	return r
}

type downloadRequest struct {
	MovieID   string `json:"movie_id"`
	Source    string `json:"source"`
	MagnetURL string `json:"magnet_url"`
}

// HandleDownload starts a torrent download for a movie and registers it in
// the ledger with a fresh eviction countdown. Downloading an already-cached
// key tears the old content down first: replace, never duplicate.
func (h *ContentHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	key := content.Key{MovieID: req.MovieID, Source: req.Source}

	if err := content.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if req.MagnetURL == "" {
		writeError(w, http.StatusBadRequest, "magnet_url must not be empty")

		return
	}

	logger = logger.With("content_key", key.String())

	// Replace semantics: an existing record for this key is torn down
	// before the new download starts, so the key never has two rows.
	existing, err := h.ledger.Get(ctx, key)
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		logger.Error("ledger lookup failed", "err", err)
		writeError(w, http.StatusBadRequest, "database error")

		return
	}

	if existing != nil {
		logger.Info("replacing existing content", "torrent_id", existing.TorrentID)
		h.scheduler.Cancel(key)

		if err := h.teardown(ctx, existing); err != nil {
			logger.Error("failed to replace existing content", "err", err)
			h.recordDownload(ctx, "error")
			writeError(w, http.StatusBadRequest, "failed to remove previous download")

			return
		}
	}

	outputDir := filepath.Join(h.downloadDir, key.MovieID+"_"+key.Source+"_"+time.Now().Format("2006-01-02"))

	rec, err := h.daemon.Download(ctx, key, req.MagnetURL, outputDir)
	if err != nil {
		logger.Error("failed to start torrent", "err", err)
		h.recordDownload(ctx, "error")
		writeError(w, http.StatusBadRequest, "failed to start torrent")

		return
	}

	if err := h.ledger.Insert(ctx, rec); err != nil {
		logger.Error("failed to create ledger record", "err", err)

		// Roll the daemon torrent back so a failed download leaves nothing
		// behind. Best effort: a rollback failure only orphans daemon state.
		if delErr := h.daemon.Delete(ctx, rec.TorrentID, rec.FilePath); delErr != nil {
			logger.Error("failed to roll back daemon torrent", "torrent_id", rec.TorrentID, "err", delErr)
		}

		h.recordDownload(ctx, "error")
		writeError(w, http.StatusBadRequest, "failed to track download")

		return
	}

	h.scheduler.Schedule(key)
	h.recordDownload(ctx, "success")

	logger.Info("download started",
		"torrent_id", rec.TorrentID,
		"file_path", rec.FilePath,
		"media_type", rec.MediaType,
	)

	writeJSON(w, http.StatusOK, map[string]any{})
}

// HandleDelete removes cached content on user request: daemon torrent and
// disk first, ledger row last, so the row stays a reliable existence marker
// while cleanup is in flight.
func (h *ContentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	key := content.Key{
		MovieID: chi.URLParam(r, "movie_id"),
		Source:  chi.URLParam(r, "source"),
	}
	logger = logger.With("content_key", key.String())

	rec, err := h.ledger.Get(ctx, key)
	if errors.Is(err, content.ErrNotFound) {
		writeError(w, http.StatusNotFound, "content not found")

		return
	}

	if err != nil {
		logger.Error("ledger lookup failed", "err", err)
		writeError(w, http.StatusBadRequest, "database error")

		return
	}

	// Stop the countdown before touching anything so a stale timer can't
	// fire against content we are already removing.
	h.scheduler.Cancel(key)

	evictErr := h.instrumentEviction(ctx, "explicit", func(ctx context.Context) error {
		return h.teardown(ctx, rec)
	})
	if evictErr != nil {
		writeError(w, http.StatusBadRequest, evictErr.Error())

		return
	}

	logger.Info("content deleted", "torrent_id", rec.TorrentID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// HandleStream serves one bounded chunk of the cached file as partial
// content. Every successful read restarts the eviction countdown: watching
// is the access that proves the content is in use.
func (h *ContentHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	key := content.Key{
		MovieID: chi.URLParam(r, "movie_id"),
		Source:  chi.URLParam(r, "source"),
	}
	quality := chi.URLParam(r, "quality")
	logger = logger.With("content_key", key.String(), "quality", quality)

	rec, err := h.ledger.Get(ctx, key)
	if errors.Is(err, content.ErrNotFound) {
		// Not downloaded, evicted, or lost a race with a firing TTL timer.
		// All degrade to the same answer: the client can re-download.
		writeError(w, http.StatusNotFound, "content not found")

		return
	}

	if err != nil {
		logger.Error("ledger lookup failed", "err", err)
		writeError(w, http.StatusBadRequest, "database error")

		return
	}

	file, err := os.Open(rec.FilePath)
	if err != nil {
		logger.Warn("content file missing", "file_path", rec.FilePath, "err", err)
		writeError(w, http.StatusNotFound, "file not found")

		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		logger.Error("failed to stat content file", "file_path", rec.FilePath, "err", err)
		writeError(w, http.StatusBadRequest, "failed to read file metadata")

		return
	}

	fileSize := info.Size()

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		// Whole-file responses are never served; players must seek.
		h.recordStream(ctx, "missing_range", 0)
		writeError(w, http.StatusBadRequest, "missing range header")

		return
	}

	br, err := parseRange(rangeHeader, fileSize)
	if err != nil {
		logger.Warn("invalid range header", "range", rangeHeader, "err", err)
		h.recordStream(ctx, "invalid_range", 0)
		writeError(w, http.StatusBadRequest, "invalid range header")

		return
	}

	br = clampRange(br, fileSize)

	// The whole chunk is read before any header is written, so a failed
	// read never leaves the client with a truncated 206.
	buf := make([]byte, br.Length())

	if _, err := file.Seek(br.Start, io.SeekStart); err != nil {
		logger.Error("seek failed", "offset", br.Start, "err", err)
		h.recordStream(ctx, "read_failed", 0)
		writeError(w, http.StatusInternalServerError, "failed to read file")

		return
	}

	if _, err := io.ReadFull(file, buf); err != nil {
		logger.Error("read failed", "offset", br.Start, "length", br.Length(), "err", err)
		h.recordStream(ctx, "read_failed", 0)
		writeError(w, http.StatusInternalServerError, "failed to read file")

		return
	}

	h.scheduler.Schedule(key)
	h.recordStream(ctx, "success", br.Length())

	logger.Debug("serving chunk",
		"start", br.Start,
		"end", br.End,
		"chunk", humanize.Bytes(uint64(br.Length())),
		"file_size", humanize.Bytes(uint64(fileSize)),
	)

	w.Header().Set("Content-Range", contentRangeValue(br, fileSize))
	w.Header().Set("Content-Type", "video/"+rec.MediaType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)

	if _, err := w.Write(buf); err != nil {
		logger.Debug("client went away mid-chunk", "err", err)
	}
}

// teardown removes the daemon torrent and its files, then the ledger row.
// The row only goes once the daemon delete succeeded; a filesystem cleanup
// failure after that point is logged and the row is removed anyway, since
// the daemon resource is already reclaimed.
func (h *ContentHandler) teardown(ctx context.Context, rec *content.Record) error {
	logger := logctx.LoggerFromContext(ctx).With("content_key", rec.Key.String())

	if err := h.daemon.Delete(ctx, rec.TorrentID, rec.FilePath); err != nil {
		var cleanupErr *content.CleanupError
		if !errors.As(err, &cleanupErr) {
			return err
		}

		logger.Warn("disk cleanup failed after daemon delete, continuing", "err", err)
	}

	if err := h.ledger.Delete(ctx, rec.Key); err != nil && !errors.Is(err, content.ErrNotFound) {
		return err
	}

	return nil
}

func (h *ContentHandler) instrumentEviction(ctx context.Context, reason string, fn telemetry.InstrumentedFunc) error {
	if h.telemetry == nil {
		return fn(ctx)
	}

	return h.telemetry.InstrumentEviction(ctx, reason, fn)
}

func (h *ContentHandler) recordDownload(ctx context.Context, status string) {
	if h.telemetry != nil {
		h.telemetry.RecordDownload(ctx, status)
	}
}

func (h *ContentHandler) recordStream(ctx context.Context, status string, bytes int64) {
	if h.telemetry != nil {
		h.telemetry.RecordStream(ctx, status, bytes)
	}
}

func contentRangeValue(br byteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, size)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
