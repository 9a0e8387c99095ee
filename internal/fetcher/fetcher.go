// Package fetcher downloads source images over HTTP.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/example/petri-split/internal/logging"
)

// ErrTooLarge is returned when the source body exceeds the configured limit.
var ErrTooLarge = errors.New("source image exceeds size limit")

// StatusError reports a non-2xx response from the image host.
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Fetcher resolves image references to raw bytes.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	maxBytes int64
	logger   *zap.Logger
}

// New constructs a Fetcher. Bare references are resolved against baseURL.
func New(client *http.Client, baseURL string, maxBytes int64, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger.Named("fetcher"),
	}
}

// Resolve turns a reference into an absolute URL.
func (f *Fetcher) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty image reference")
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return ref, nil
	}
	if f.baseURL == "" {
		return "", fmt.Errorf("relative image reference %q without a source base url", ref)
	}
	return f.baseURL + "/" + strings.TrimLeft(ref, "/"), nil
}

// Fetch downloads the image behind ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := f.Resolve(ref)
	if err != nil {
		return nil, logging.NewOperationError("fetcher.resolve", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, logging.NewOperationError("fetcher.build_request", "", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("fetcher.get", "", err)
		f.logger.Error("image download failed", zap.Error(wrapped), zap.String("url", target))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, logging.NewOperationError("fetcher.read_body", "", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}

	f.logger.Debug("image downloaded", zap.String("url", target), zap.Int("bytes", len(data)))
	return data, nil
}
