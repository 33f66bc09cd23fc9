// Package gateway maintains the ranked list of IPFS gateway endpoints used
// to resolve content-addressed image references.
package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/pairvote/pairvote/internal/model"
)

// DefaultEndpoints is the built-in gateway list, in preference order.
var DefaultEndpoints = []string{
	"https://ipfs.io",
	"https://cloudflare-ipfs.com",
	"https://dweb.link",
	"https://gateway.pinata.cloud",
	"https://nftstorage.link",
}

// Endpoint is one gateway with its lifetime success counter.
// Endpoints are created at startup and never removed; a temporarily
// failing gateway still gets retried on later images.
type Endpoint struct {
	BaseURL      string
	successCount int64
	configOrder  int
}

// SuccessCount returns the endpoint's confirmed-render counter.
func (e Endpoint) SuccessCount() int64 { return e.successCount }

// Registry holds the gateway endpoints and their success-based ordering.
// All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	byBase    map[string]*Endpoint
}

// NewRegistry builds a registry from base URLs in configuration order.
// Empty and duplicate entries are dropped; an empty list falls back to
// DefaultEndpoints.
func NewRegistry(baseURLs []string) *Registry {
	if len(baseURLs) == 0 {
		baseURLs = DefaultEndpoints
	}
	r := &Registry{byBase: make(map[string]*Endpoint)}
	for _, raw := range baseURLs {
		base := strings.TrimRight(strings.TrimSpace(raw), "/")
		if base == "" {
			continue
		}
		if _, dup := r.byBase[base]; dup {
			continue
		}
		ep := &Endpoint{BaseURL: base, configOrder: len(r.endpoints)}
		r.endpoints = append(r.endpoints, ep)
		r.byBase[base] = ep
	}
	return r
}

// Rank returns the endpoints ordered by descending success count, ties
// broken by configuration order. The returned slice holds value snapshots
// taken under the lock, so callers may sort and iterate them while other
// goroutines record successes.
func (r *Registry) Rank() []Endpoint {
	r.mu.RLock()
	ranked := make([]Endpoint, len(r.endpoints))
	for i, ep := range r.endpoints {
		ranked[i] = *ep
	}
	r.mu.RUnlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].successCount != ranked[j].successCount {
			return ranked[i].successCount > ranked[j].successCount
		}
		return ranked[i].configOrder < ranked[j].configOrder
	})
	return ranked
}

// RecordSuccess increments the counter for the endpoint serving baseURL.
// Unknown endpoints are ignored; redundant calls are safe.
func (r *Registry) RecordSuccess(baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.byBase[strings.TrimRight(baseURL, "/")]; ok {
		ep.successCount++
	}
}

// SetSuccessCount seeds one endpoint's counter, used when loading
// persisted gateway stats at boot.
func (r *Registry) SetSuccessCount(baseURL string, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.byBase[strings.TrimRight(baseURL, "/")]; ok && count >= 0 {
		ep.successCount = count
	}
}

// Stats reports every endpoint with its current rank, for persistence and
// status surfaces. It reads the same snapshot Rank produces.
func (r *Registry) Stats() []model.GatewayStat {
	ranked := r.Rank()
	stats := make([]model.GatewayStat, len(ranked))
	for i, ep := range ranked {
		stats[i] = model.GatewayStat{
			BaseURL:      ep.BaseURL,
			SuccessCount: ep.successCount,
			Rank:         i,
		}
	}
	return stats
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// ResolveURL builds the fetch URL for ref through the given endpoint.
// A URL hint that already points at a gateway /ipfs/ path is rewritten
// onto the endpoint so every attempt goes through the chosen gateway; a
// bare CID becomes <base>/ipfs/<cid>.
func ResolveURL(ref model.ImageRef, ep Endpoint) (string, error) {
	if ep.BaseURL == "" {
		return "", fmt.Errorf("gateway: endpoint has no base url")
	}
	if cid := strings.TrimSpace(ref.CID); cid != "" {
		return ep.BaseURL + "/ipfs/" + cid, nil
	}
	hint := strings.TrimSpace(ref.URLHint)
	if hint == "" {
		return "", fmt.Errorf("gateway: image reference has no cid or url hint")
	}
	u, err := url.Parse(hint)
	if err != nil {
		return "", fmt.Errorf("gateway: parse url hint: %w", err)
	}
	if idx := strings.Index(u.Path, "/ipfs/"); idx >= 0 {
		return ep.BaseURL + u.Path[idx:], nil
	}
	// Non-gateway hint: use it as-is. The endpoint still brackets the
	// attempt's timeout and success accounting.
	return hint, nil
}
