// Package fetch downloads backend and ICS payloads with HTTP caching
// (ETag / Last-Modified) and a disk-backed copy of the last good body.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	appLog "attendcal/internal/log"
)

// Source is one remote payload: the events backend or an ICS subscription.
type Source struct {
	ID  string
	URL string
	// Token, when set, is sent as a bearer token.
	Token string
	// Accept overrides the Accept header.
	Accept string
}

// Result is the outcome of fetching a single source.
type Result struct {
	Source    Source
	Body      []byte
	FromCache bool // the body came from disk (304, network error or non-OK status)
}

type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher is safe for concurrent use on distinct sources.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// New creates a Fetcher caching under cacheDir. client may be nil.
func New(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/fetch-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// FetchAll fetches every source. Failed sources are logged and returned in
// the error slice; the result slice only holds sources that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]Result, []error) {
	results := make([]Result, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s: %w", src.ID, err))
			appLog.Error("fetch failed", err, "id", src.ID, "url", RedactURL(src.URL))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// FetchOne fetches src, sending conditional headers from the cached metadata
// and falling back to the cached body when the network or the server fails.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (Result, error) {
	if src.URL == "" {
		return Result{}, errors.New("fetch: source URL is empty")
	}

	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Result{}, err
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)
	if src.Token != "" {
		req.Header.Set("Authorization", "Bearer "+src.Token)
	}
	if src.Accept != "" {
		req.Header.Set("Accept", src.Accept)
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	log := []any{"id", src.ID, "url", RedactURL(src.URL), "request_id", requestID}
	appLog.Debug("fetch start", log...)

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("fetch network error, using cached body", err, log...)
			return Result{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Result{}, err
		}
		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("fetch cache save failed", err, log...)
		}
		appLog.Info("fetch success", append(log, "status", resp.StatusCode, "bytes", len(body))...)
		return Result{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, errors.New("fetch: 304 Not Modified but no cached body available")
		}
		appLog.Info("fetch not modified; using cache", log...)
		return Result{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("fetch non-OK, using cached body", errors.New(resp.Status), append(log, "status", resp.StatusCode)...)
			return Result{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("fetch: %s", resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL keeps only scheme and host, so tokens in paths or query strings
// never reach the logs.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "url://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
