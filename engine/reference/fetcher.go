package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/compozy/animagen/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

var (
	DefaultMaxDownloadSizeBytes int64 = 20 * 1024 * 1024
	DefaultDownloadTimeout            = 30 * time.Second
	DefaultMaxRedirects               = 3
)

// ErrMaxSizeExceeded is returned when a download is larger than the configured limit.
var ErrMaxSizeExceeded = errors.New("download exceeds size limit")

// Fetcher returns the binary content behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports a non-2xx response.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Status, e.URL)
}

func (e *FetchError) StatusCode() int {
	return e.Status
}

// HTTPOptions bounds HTTPFetcher downloads.
type HTTPOptions struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	UserAgent    string
}

// HTTPFetcher downloads over HTTP(S) with size, redirect and time limits.
// It never retries; callers wrap it with retry.Do.
type HTTPFetcher struct {
	client   *resty.Client
	maxBytes int64
}

func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDownloadTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxDownloadSizeBytes
	}
	if opts.MaxRedirects < 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects)).
		SetDoNotParseResponse(true)
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	return &HTTPFetcher{client: client, maxBytes: opts.MaxBytes}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	body := resp.RawBody()
	if body != nil {
		defer body.Close()
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode()}
	}
	if body == nil {
		return []byte{}, nil
	}
	buf, err := io.ReadAll(&io.LimitedReader{R: body, N: f.maxBytes + 1})
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	if int64(len(buf)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrMaxSizeExceeded, f.maxBytes)
	}
	logger.FromContext(ctx).Debug("Downloaded reference image", "url", url, "bytes", len(buf))
	return buf, nil
}

// DetectMIME determines a MIME type using stdlib detection first and
// falling back to the broader mimetype library when ambiguous.
func DetectMIME(buf []byte) string {
	if len(buf) == 0 {
		return "application/octet-stream"
	}
	head := buf
	if len(head) > 512 {
		head = head[:512]
	}
	mt := http.DetectContentType(head)
	if mt != "application/octet-stream" {
		return mt
	}
	return mimetype.Detect(buf).String()
}
