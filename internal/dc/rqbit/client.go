// Package rqbit is a client for the rqbit torrent daemon's HTTP control API.
// The daemon does the actual peer-to-peer work and materializes files on a
// shared filesystem; this client only starts and tears down torrents.
package rqbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/media_cache/internal/content"
	"github.com/italolelis/media_cache/internal/logctx"
	"github.com/italolelis/media_cache/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	BaseURL     string
	DownloadDir string

	httpClient *http.Client
	telemetry  *telemetry.Telemetry
}

// addTorrentResponse is the daemon's reply to POST /torrents.
type addTorrentResponse struct {
	ID      *int64 `json:"id"`
	Details struct {
		Name  string `json:"name"`
		Files []struct {
			Name string `json:"name"`
		} `json:"files"`
	} `json:"details"`
}

// NewClient creates a daemon client. downloadDir is the fallback output
// folder when a download request does not carry its own.
func NewClient(baseURL, downloadDir string, tel *telemetry.Telemetry, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		DownloadDir: downloadDir,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		telemetry: tel,
	}
}

// Download asks the daemon to fetch magnet into outputDir and returns the
// ledger record for the playable file it will materialize. The file may not
// exist on disk yet; the daemon pre-allocates and fills it asynchronously.
func (c *Client) Download(ctx context.Context, key content.Key, magnet, outputDir string) (*content.Record, error) {
	logger := logctx.LoggerFromContext(ctx).With("daemon_op", "add_torrent")

	if magnet == "" {
		return nil, fmt.Errorf("magnet link must not be empty")
	}

	if outputDir == "" {
		outputDir = c.DownloadDir
	}

	reqURL := c.BaseURL + "/torrents?output_folder=" + url.QueryEscape(outputDir)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(magnet))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("daemon unreachable", "err", err)
		c.recordOp(ctx, "add_torrent", "error")

		return nil, &content.DaemonError{Operation: "add_torrent", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-2xx response", "status", resp.StatusCode, "body", string(b))
		c.recordOp(ctx, "add_torrent", "error")

		return nil, &content.BadResponseError{
			Operation:  "add_torrent",
			StatusCode: resp.StatusCode,
			Reason:     string(b),
		}
	}

	var body addTorrentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logger.Error("decode error", "err", err)
		c.recordOp(ctx, "add_torrent", "error")

		return nil, &content.BadResponseError{Operation: "add_torrent", Reason: "unparsable JSON body", Err: err}
	}

	if body.ID == nil {
		c.recordOp(ctx, "add_torrent", "error")

		return nil, &content.BadResponseError{Operation: "add_torrent", Reason: "missing torrent id"}
	}

	names := make([]string, len(body.Details.Files))
	for i, f := range body.Details.Files {
		names[i] = f.Name
	}

	selected, err := content.SelectPlayableFile(names)
	if err != nil {
		c.recordOp(ctx, "add_torrent", "error")

		return nil, err
	}

	rec := content.NewRecord(key, *body.ID, filepath.Join(outputDir, selected), content.MediaTypeOf(selected))

	logger.Info("torrent started",
		"torrent_id", rec.TorrentID,
		"file_path", rec.FilePath,
		"media_type", rec.MediaType,
		"manifest_files", len(names),
	)
	c.recordOp(ctx, "add_torrent", "success")

	return rec, nil
}

// Delete stops the torrent on the daemon and then removes the content
// directory from disk. The filesystem is only touched after the daemon
// confirms the delete so daemon and disk state never diverge silently.
func (c *Client) Delete(ctx context.Context, torrentID int64, filePath string) error {
	logger := logctx.LoggerFromContext(ctx).With("daemon_op", "delete_torrent", "torrent_id", torrentID)

	reqURL := fmt.Sprintf("%s/torrents/%d/delete", c.BaseURL, torrentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("daemon unreachable", "err", err)
		c.recordOp(ctx, "delete_torrent", "error")

		return &content.DaemonError{Operation: "delete_torrent", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-2xx response", "status", resp.StatusCode, "body", string(b))
		c.recordOp(ctx, "delete_torrent", "error")

		return &content.BadResponseError{
			Operation:  "delete_torrent",
			StatusCode: resp.StatusCode,
			Reason:     string(b),
		}
	}

	c.recordOp(ctx, "delete_torrent", "success")

	contentDir := filepath.Dir(filePath)
	if err := os.RemoveAll(contentDir); err != nil {
		logger.Error("failed to remove content directory", "dir", contentDir, "err", err)

		return &content.CleanupError{Path: contentDir, Err: err}
	}

	logger.Info("torrent deleted", "dir", contentDir)

	return nil
}

func (c *Client) recordOp(ctx context.Context, operation, status string) {
	if c.telemetry != nil {
		c.telemetry.RecordDaemonOperation(ctx, operation, status)
	}
}
