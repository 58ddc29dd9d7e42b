// Package hub resolves pretrained model snapshots: it downloads checkpoint
// files from a model hub into a local cache and returns the snapshot
// directory. Files already present in the cache are not fetched again.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the public hub endpoint.
const DefaultBaseURL = "https://huggingface.co"

// DefaultSnapshotFiles are the files fetched for each model when the caller
// does not name its own set.
var DefaultSnapshotFiles = []string{"config.json", "model.safetensors"}

// Client downloads model snapshots into a local cache directory.
type Client struct {
	baseURL  string
	cacheDir string
	http     *http.Client
	log      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the hub endpoint (tests point it at a local server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a hub client caching under cacheDir.
func NewClient(cacheDir string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		cacheDir: cacheDir,
		http:     &http.Client{Timeout: 10 * time.Minute},
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve ensures the named files of modelID are present in the cache and
// returns the snapshot directory holding them.
func (c *Client) Resolve(ctx context.Context, modelID string, files ...string) (string, error) {
	if modelID == "" {
		return "", fmt.Errorf("empty model id")
	}
	if len(files) == 0 {
		files = DefaultSnapshotFiles
	}

	dir := c.snapshotDir(modelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	for _, name := range files {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil {
			c.log.Debug("snapshot file cached", zap.String("model", modelID), zap.String("file", name))
			continue
		}
		if err := c.download(ctx, modelID, name, dest); err != nil {
			return "", fmt.Errorf("failed to fetch %s for %s: %w", name, modelID, err)
		}
	}
	return dir, nil
}

// snapshotDir maps a model id like "openai/clip-vit-base-patch32" to a
// cache path that is safe on every filesystem.
func (c *Client) snapshotDir(modelID string) string {
	return filepath.Join(c.cacheDir, "models--"+strings.ReplaceAll(modelID, "/", "--"))
}

func (c *Client) download(ctx context.Context, modelID, name, dest string) error {
	u := fmt.Sprintf("%s/%s/resolve/main/%s", c.baseURL, modelID, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	c.log.Info("downloading snapshot file",
		zap.String("model", modelID),
		zap.String("file", name))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	// Download to a temp file first so an interrupted fetch never leaves a
	// partial file that a later run would treat as cached.
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move snapshot file into place: %w", err)
	}

	c.log.Info("snapshot file downloaded",
		zap.String("model", modelID),
		zap.String("file", name),
		zap.Int64("bytes", n))
	return nil
}
