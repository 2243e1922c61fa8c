// ABOUTME: Cover art downloader for the demo player
// ABOUTME: Fetches image URLs with retry into a content-addressed directory
package artwork

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const maxImageBytes = 8 << 20

// Downloader stores cover art on disk keyed by URL hash.
type Downloader struct {
	dir     string
	client  *http.Client
	log     zerolog.Logger
	retries uint64
	policy  func() backoff.BackOff
}

// NewDownloader creates dir if needed. An empty dir uses a directory under
// os.TempDir.
func NewDownloader(dir string, logger zerolog.Logger) (*Downloader, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "spe-artwork")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artwork directory: %w", err)
	}
	return &Downloader{
		dir:     dir,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger.With().Str("component", "artwork").Logger(),
		retries: 3,
		policy:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

// Download returns the local path of the image at url, fetching it on a miss.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", errors.New("empty artwork url")
	}
	hash := sha256.Sum256([]byte(url))
	path := filepath.Join(d.dir, fmt.Sprintf("%x%s", hash[:8], extension(url)))

	if _, err := os.Stat(path); err == nil {
		d.log.Debug().Str("path", path).Msg("artwork cache hit")
		return path, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(d.policy(), d.retries), ctx)
	err := backoff.Retry(func() error { return d.fetch(ctx, url, path) }, policy)
	if err != nil {
		return "", err
	}
	d.log.Debug().Str("url", url).Str("path", path).Msg("artwork saved")
	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("artwork request: %w", err))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download artwork: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("artwork download failed: HTTP %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("artwork download failed: HTTP %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp(d.dir, "dl-*")
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create artwork file: %w", err))
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, io.LimitReader(resp.Body, maxImageBytes))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("save artwork: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return backoff.Permanent(fmt.Errorf("save artwork: %w", err))
	}
	return nil
}

func extension(url string) string {
	url, _, _ = strings.Cut(url, "?")
	ext := filepath.Ext(url)
	if ext == "" || len(ext) > 5 {
		return ".jpg"
	}
	return ext
}

// Cleanup removes the artwork directory.
func (d *Downloader) Cleanup() error {
	return os.RemoveAll(d.dir)
}
