package samapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v5"
)

// DownloadAttachment streams url into dest, hashing the bytes as they are
// written. Transport and rate limit failures are retried with exponential
// backoff; anything else fails immediately.
func (c *Client) DownloadAttachment(ctx context.Context, rawURL, dest string) (*AttachmentDownload, error) {
	attempt := 0
	operation := func() (*AttachmentDownload, error) {
		attempt++
		download, err := c.downloadOnce(ctx, rawURL, dest)
		if err == nil {
			return download, nil
		}
		if !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		slog.Debug("Attachment download attempt failed", "url", redact(rawURL), "attempt", attempt, "error", err)
		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.retry.MaxTries))
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	return b
}

func (c *Client) downloadOnce(ctx context.Context, rawURL, dest string) (*AttachmentDownload, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, fmt.Errorf("failed to move attachment into place: %w", err)
	}

	return &AttachmentDownload{
		URL:    rawURL,
		Path:   dest,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
		Bytes:  written,
	}, nil
}
