// Package resolver fetches NFT images through the gateway registry,
// rotating endpoints on failure until the image loads or the attempt
// budget is spent.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pairvote/pairvote/internal/gateway"
	"github.com/pairvote/pairvote/internal/model"
)

// Outcome is the terminal state of one image load.
type Outcome int

const (
	Pending Outcome = iota
	Loaded
	Exhausted
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// maxImageBytes caps how much body is read per attempt. Gateways serving
// more than this are treated as failed attempts.
const maxImageBytes = 32 << 20

// ErrNoEndpoints is returned when the registry has no gateways to try.
var ErrNoEndpoints = errors.New("resolver: no gateway endpoints available")

// Config holds the single tuning surface for image resolution. The attempt
// budget and timeout were scattered constants in earlier versions of the
// game client; here they are configuration.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Client         *http.Client
}

// LoadState is the retry bookkeeping for one image-on-screen attempt.
// It is owned by the matchup slot that displays the image and holds all
// state the per-attempt loop needs; nothing lives on presentation objects.
type LoadState struct {
	Ref      model.ImageRef
	Attempts int
	Outcome  Outcome
	URL      string // fetchable URL once Loaded
	Gateway  string // endpoint that served the confirmed load
	Err      error  // last attempt failure when Exhausted
}

// Resolver runs image loads against the ranked gateway list.
// Safe for concurrent use; each Resolve call owns its LoadState.
type Resolver struct {
	registry       *gateway.Registry
	client         *http.Client
	maxAttempts    int
	attemptTimeout time.Duration
}

// New creates a resolver over the given registry. Zero config fields fall
// back to the shared defaults.
func New(registry *gateway.Registry, cfg Config) *Resolver {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = model.DefaultAttemptTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Resolver{
		registry:       registry,
		client:         client,
		maxAttempts:    maxAttempts,
		attemptTimeout: timeout,
	}
}

// Resolve drives one image through the Pending→Loaded|Exhausted state
// machine. Each attempt uses the next endpoint in the ranked order under a
// per-attempt timeout; the timeout is the dominant failure detector
// because gateways often stall rather than answer with an error status.
// A cancelled ctx leaves the state Pending with Err set.
func (r *Resolver) Resolve(ctx context.Context, ref model.ImageRef) *LoadState {
	state := &LoadState{Ref: ref}

	ranked := r.registry.Rank()
	if len(ranked) == 0 {
		state.Outcome = Exhausted
		state.Err = ErrNoEndpoints
		return state
	}

	for state.Attempts < r.maxAttempts {
		if ctx.Err() != nil {
			state.Err = ctx.Err()
			return state
		}

		// The budget is normally shorter than the gateway list, so the
		// modulo only matters with very small configurations.
		ep := ranked[state.Attempts%len(ranked)]
		state.Attempts++

		url, gwBase, err := r.attempt(ctx, ref, ep)
		if err == nil {
			state.Outcome = Loaded
			state.URL = url
			state.Gateway = gwBase
			r.registry.RecordSuccess(gwBase)
			return state
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			state.Err = ctx.Err()
			return state
		}
		state.Err = err
	}

	state.Outcome = Exhausted
	return state
}

// attempt performs a single bounded fetch through ep and verifies the
// response renders as an image.
func (r *Resolver) attempt(ctx context.Context, ref model.ImageRef, ep gateway.Endpoint) (string, string, error) {
	url, err := gateway.ResolveURL(ref, ep)
	if err != nil {
		return "", "", err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("resolver: build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("resolver: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("resolver: fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("resolver: read %s: %w", url, err)
	}
	if len(body) > maxImageBytes {
		return "", "", fmt.Errorf("resolver: %s exceeds %d byte cap", url, maxImageBytes)
	}

	if err := verifyImage(resp.Header.Get("Content-Type"), body); err != nil {
		return "", "", fmt.Errorf("resolver: %s: %w", url, err)
	}

	return url, ep.BaseURL, nil
}
