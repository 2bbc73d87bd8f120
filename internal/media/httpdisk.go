package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

// HTTPOptions configure an HTTPDisk.
type HTTPOptions struct {
	Headers  map[string]string
	RetryMax int
	Logger   hclog.Logger
}

// HTTPDisk stores objects behind a plain HTTP object API: GET/HEAD to read,
// PUT to write, DELETE to remove. Visibility maps to an x-amz-acl header.
type HTTPDisk struct {
	name    string
	baseURL string
	headers map[string]string
	client  *retryablehttp.Client
}

// NewHTTPDisk creates a disk backed by a retrying HTTP client.
func NewHTTPDisk(name, baseURL string, opts HTTPOptions) *HTTPDisk {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	if opts.RetryMax > 0 {
		retryClient.RetryMax = opts.RetryMax
	}
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	if opts.Logger != nil {
		retryClient.Logger = opts.Logger.Named("http-disk")
	} else {
		retryClient.Logger = nil
	}

	return &HTTPDisk{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: opts.Headers,
		client:  retryClient,
	}
}

func (d *HTTPDisk) Name() string { return d.name }

func (d *HTTPDisk) url(p string) string {
	return d.baseURL + cleanPath(p)
}

func (d *HTTPDisk) newRequest(ctx context.Context, method, p string, body interface{}) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, d.url(p), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (d *HTTPDisk) Exists(ctx context.Context, p string) (bool, error) {
	req, err := d.newRequest(ctx, http.MethodHead, p, nil)
	if err != nil {
		return false, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", p, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		return false, &StatusError{Method: http.MethodHead, Path: p, StatusCode: resp.StatusCode}
	default:
		return true, nil
	}
}

func (d *HTTPDisk) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	req, err := d.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%s:%s: %w", d.name, p, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, Path: p, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// Write uploads r with PUT. Seekable readers are rewound for each retry;
// any other reader is sent once, since retrying would mean buffering it.
func (d *HTTPDisk) Write(ctx context.Context, p string, r io.Reader, opts WriteOptions) error {
	var resp *http.Response
	var err error
	if rs, ok := r.(io.ReadSeeker); ok {
		resp, err = d.putWithRetry(ctx, p, rs, opts)
	} else {
		resp, err = d.putOnce(ctx, p, r, opts)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &StatusError{Method: http.MethodPut, Path: p, StatusCode: resp.StatusCode}
	}
	return nil
}

func (d *HTTPDisk) putWithRetry(ctx context.Context, p string, rs io.ReadSeeker, opts WriteOptions) (*http.Response, error) {
	body := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return rs, nil
	})
	req, err := d.newRequest(ctx, http.MethodPut, p, body)
	if err != nil {
		return nil, err
	}
	d.applyWriteHeaders(req.Header, opts)
	return d.client.Do(req)
}

func (d *HTTPDisk) putOnce(ctx context.Context, p string, r io.Reader, opts WriteOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.url(p), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
	d.applyWriteHeaders(req.Header, opts)
	return d.client.HTTPClient.Do(req)
}

func (d *HTTPDisk) applyWriteHeaders(h http.Header, opts WriteOptions) {
	if opts.ContentType != "" {
		h.Set("Content-Type", opts.ContentType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	switch opts.Visibility {
	case VisibilityPublic:
		h.Set("x-amz-acl", "public-read")
	case VisibilityPrivate:
		h.Set("x-amz-acl", "private")
	}
}

func (d *HTTPDisk) Delete(ctx context.Context, p string) error {
	req, err := d.newRequest(ctx, http.MethodDelete, p, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return &StatusError{Method: http.MethodDelete, Path: p, StatusCode: resp.StatusCode}
	}
	return nil
}

func (d *HTTPDisk) LocalPath(string) (string, error) {
	return "", ErrNotLocal
}

// StatusError reports an unexpected HTTP status from the storage API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage %s %s: status %d", e.Method, e.Path, e.StatusCode)
}
