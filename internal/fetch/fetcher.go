// Package fetch resolves note identifiers to content and coordinates when
// fetched content may be committed to the visible stack.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/models"
	"github.com/starford/zettelstack/internal/storage"
)

// maxNoteSize bounds a single note response.
const maxNoteSize = 10 << 20

// Fetcher loads the content of one note.
type Fetcher interface {
	Fetch(ctx context.Context, id models.NoteID) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id models.NoteID) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, id models.NoteID) ([]byte, error) {
	return f(ctx, id)
}

// HTTPFetcher requests notes from an HTTP origin.
type HTTPFetcher struct {
	base    *url.URL
	client  *http.Client
	maxSize int64
}

// NewHTTPFetcher returns a fetcher resolving note paths against origin.
func NewHTTPFetcher(origin string, client *http.Client) (*HTTPFetcher, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse origin %q: %w", origin, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("fetch: origin %q must be http or https", origin)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{base: base, client: client, maxSize: maxNoteSize}, nil
}

// Fetch issues a GET for id. Any non-2xx status is a fetch failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, id models.NoteID) ([]byte, error) {
	target := f.base.ResolveReference(&url.URL{Path: string(id)})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w: %w", id, apperr.ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: %w: %w", id, apperr.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetch: %s: %w: %w", id, apperr.ErrFetchFailed, apperr.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch: %s: %w: status %d", id, apperr.ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: read body: %w: %w", id, apperr.ErrFetchFailed, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("fetch: %s: body exceeds %d bytes: %w", id, f.maxSize, apperr.ErrFetchFailed)
	}
	return data, nil
}

// StorageFetcher reads notes straight from a site directory.
type StorageFetcher struct {
	store storage.Provider
}

// NewStorageFetcher returns a fetcher backed by store.
func NewStorageFetcher(store storage.Provider) *StorageFetcher {
	return &StorageFetcher{store: store}
}

// Fetch reads id from the store.
func (f *StorageFetcher) Fetch(ctx context.Context, id models.NoteID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch: %s: %w: %w", id, apperr.ErrFetchFailed, err)
	}
	data, err := f.store.Read(string(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("fetch: %s: %w: %w", id, apperr.ErrFetchFailed, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch: %s: %w: %w", id, apperr.ErrFetchFailed, err)
	}
	return data, nil
}
