// internal/content/resolver.go
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/datamarket-backend/internal/config"
)

// maxMetadataSize bounds the metadata documents read from the gateway.
const maxMetadataSize = 1 << 20

// Metadata is the JSON document a dataset's content uri points at.
type Metadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	License     string          `json:"license,omitempty"`
	Format      string          `json:"format,omitempty"`
	Size        int64           `json:"size,omitempty"`
	Files       []string        `json:"files,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Text is the prose used for summaries.
func (m *Metadata) Text() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{m.Name, m.Description} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ". ")
}

type Resolver struct {
	gateway string
	client  *http.Client
	cache   *expirable.LRU[string, *Metadata]
}

func NewResolver(cfg config.ContentConfig) *Resolver {
	size := cfg.CacheSize
	if size <= 0 {
		size = 128
	}
	return &Resolver{
		gateway: strings.TrimRight(cfg.GatewayURL, "/"),
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		cache:   expirable.NewLRU[string, *Metadata](size, nil, cfg.CacheTTL),
	}
}

// Resolve fetches and decodes the metadata document behind uri.
func (r *Resolver) Resolve(ctx context.Context, uri string) (*Metadata, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	key := parsed.String()

	if md, ok := r.cache.Get(key); ok {
		return md, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.gateway+parsed.GatewayPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s for %s", resp.Status, key)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("metadata at %s is not valid JSON: %w", key, err)
	}
	md.Raw = body

	r.cache.Add(key, &md)
	logrus.WithField("uri", key).Debug("Resolved dataset metadata")
	return &md, nil
}
