// Package dataset reads the static reference documents (postal regions and
// per-canton tariff tables) from a directory or an HTTP base URL.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

var (
	// ErrUnavailable marks reference data that could not be fetched or decoded.
	ErrUnavailable = errors.New("data unavailable")
	// ErrMissing marks a document that does not exist in the source.
	ErrMissing = errors.New("document missing")
)

// RegionsPath is the relative path of the postal-code document.
const RegionsPath = "regions.json"

// TariffPath returns the relative path of a canton's tariff document.
func TariffPath(canton string) string {
	return path.Join("tariffs", strings.ToLower(canton)+".json")
}

// Source opens reference documents by relative path.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DecodeJSON opens name from src and decodes it into v.
func DecodeJSON(ctx context.Context, src Source, name string, v any) error {
	body, err := src.Open(ctx, name)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).DecodeContext(ctx, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// DirSource serves documents from a local directory.
type DirSource struct {
	root string
}

// NewDirSource returns a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

func (s *DirSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// HTTPSource fetches documents relative to a base URL.
type HTTPSource struct {
	base   string
	client *http.Client
}

// NewHTTPSource creates a source with a sane timeout.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSource{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
	}
}

func (s *HTTPSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	url := s.base + "/" + strings.TrimLeft(name, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url %s: %w", url, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrMissing)
	}
	resp.Body.Close()
	return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
}

// New picks the HTTP source when baseURL is set and the directory otherwise.
func New(dir, baseURL string) Source {
	if baseURL != "" {
		return NewHTTPSource(baseURL, nil)
	}
	return NewDirSource(dir)
}
