// Package fetch loads external documents for the resolver. Whether files
// or the network may be read is decided here, at the boundary.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/apiingest/internal/retry"
)

// DefaultMaxBytes caps the size of one fetched document.
const DefaultMaxBytes = 10 << 20

var ErrDenied = errors.New("location not allowed")

// FileFetcher reads documents below Root. Locations escaping Root are denied.
type FileFetcher struct {
	Root     string
	MaxBytes int64
}

func (f *FileFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if isURL(location) {
		return nil, fmt.Errorf("%w: %s is not a file", ErrDenied, location)
	}
	root, err := filepath.Abs(f.Root)
	if err != nil {
		return nil, err
	}
	p := location
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if !within(p, root) {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrDenied, location, f.Root)
	}
	// Symlinks below root must not lead out of it.
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return nil, err
	}
	if !within(resolved, realRoot) {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrDenied, location, f.Root)
	}

	fh, err := os.Open(resolved)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return readLimited(fh, f.MaxBytes)
}

func within(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

// HTTPFetcher downloads documents over http(s), retrying 5xx responses.
type HTTPFetcher struct {
	httpClient *http.Client
	maxBytes   int64
	wait       func(int) time.Duration
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if !isURL(location) {
		return nil, fmt.Errorf("%w: %s is not an http(s) URL", ErrDenied, location)
	}
	var body []byte
	err := retry.Do(ctx, f.wait, func() error {
		var err error
		body, err = f.get(ctx, location)
		return err
	})
	return body, err
}

func (f *HTTPFetcher) get(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml, */*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &retry.RetryableError{Err: fmt.Errorf("get %s: status %d: %s", location, resp.StatusCode, string(msg))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d", location, resp.StatusCode)
	}
	return readLimited(resp.Body, f.maxBytes)
}

// Chain dispatches URLs to Remote and everything else to Local. A nil
// side denies that kind of location.
type Chain struct {
	Local  *FileFetcher
	Remote *HTTPFetcher
}

func (c Chain) Fetch(ctx context.Context, location string) ([]byte, error) {
	if isURL(location) {
		if c.Remote == nil {
			return nil, fmt.Errorf("%w: remote references are disabled", ErrDenied)
		}
		return c.Remote.Fetch(ctx, location)
	}
	if c.Local == nil {
		return nil, fmt.Errorf("%w: file references are disabled", ErrDenied)
	}
	return c.Local.Fetch(ctx, location)
}

// Enabled reports whether the chain can fetch anything at all.
func (c Chain) Enabled() bool {
	return c.Local != nil || c.Remote != nil
}

func isURL(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("document exceeds %d bytes", max)
	}
	return data, nil
}
