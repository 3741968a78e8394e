package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrDocumentNotFound = errors.New("did document not found")

// Resolver fetches the current DID document for a DID. forceRefresh
// bypasses any caches between this service and the directory.
type Resolver interface {
	Resolve(ctx context.Context, did string, forceRefresh bool) (*Document, error)
}

type HTTPResolver struct {
	directoryURL string
	client       *http.Client
}

func NewHTTPResolver(directoryURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		directoryURL: directoryURL,
		client:       &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, did string, forceRefresh bool) (*Document, error) {
	endpoint := fmt.Sprintf("%s/%s", r.directoryURL, url.PathEscape(did))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolve request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if forceRefresh {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", did, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrDocumentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("resolver returned status %d for %s", resp.StatusCode, did)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode did document: %w", err)
	}

	return &doc, nil
}
