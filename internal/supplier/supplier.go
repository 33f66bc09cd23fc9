// Package supplier assembles matchup sessions from the NFT catalog.
package supplier

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/pairvote/pairvote/internal/model"
)

// ErrCatalogExhausted is returned when the catalog cannot produce a pair.
var ErrCatalogExhausted = errors.New("supplier: catalog has fewer than two eligible entries")

// recentPairWindow bounds how many recently issued pairs are remembered to
// avoid serving the same two tokens again in quick succession.
const recentPairWindow = 16

// PairSource provides candidate NFTs for matchup assembly.
type PairSource interface {
	PairCandidates(n int, opts model.QueryOpts) ([]model.NFT, error)
}

// Catalog builds matchup sessions by drawing candidate pairs from storage.
type Catalog struct {
	source PairSource
	opts   model.QueryOpts

	mu     sync.Mutex
	recent []string // pair keys, oldest first
}

// NewCatalog creates a supplier over the given pair source. A non-empty
// collection restricts matchups to that collection.
func NewCatalog(source PairSource, collection string) *Catalog {
	return &Catalog{
		source: source,
		opts:   model.QueryOpts{Collection: collection},
	}
}

// NextSession returns one freshly assembled matchup session. It returns
// ErrCatalogExhausted when the catalog cannot field two distinct entries.
// A pair served within the recent window is re-drawn once; on a small
// catalog the repeat is allowed rather than starving the stack.
func (c *Catalog) NextSession(ctx context.Context) (*model.MatchupSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pair, err := c.drawPair()
	if err != nil {
		return nil, err
	}
	if c.seenRecently(pair) {
		if redraw, err := c.drawPair(); err == nil && !c.seenRecently(redraw) {
			pair = redraw
		}
	}
	c.remember(pair)

	return &model.MatchupSession{
		ID:    newSessionID(),
		Left:  pair[0],
		Right: pair[1],
		Kind:  model.KindStandard,
	}, nil
}

func (c *Catalog) drawPair() ([2]model.NFT, error) {
	var pair [2]model.NFT

	candidates, err := c.source.PairCandidates(2, c.opts)
	if err != nil {
		return pair, fmt.Errorf("supplier: pair candidates: %w", err)
	}
	if len(candidates) < 2 {
		return pair, ErrCatalogExhausted
	}
	if candidates[0].TokenID == candidates[1].TokenID {
		return pair, ErrCatalogExhausted
	}

	pair[0] = candidates[0]
	pair[1] = candidates[1]
	return pair, nil
}

func pairKey(pair [2]model.NFT) string {
	a, b := pair[0].TokenID, pair[1].TokenID
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (c *Catalog) seenRecently(pair [2]model.NFT) bool {
	key := pairKey(pair)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.recent {
		if k == key {
			return true
		}
	}
	return false
}

func (c *Catalog) remember(pair [2]model.NFT) {
	key := pairKey(pair)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, key)
	if len(c.recent) > recentPairWindow {
		c.recent = c.recent[len(c.recent)-recentPairWindow:]
	}
}

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failures are effectively fatal; fall back to a
		// constant-free zero ID rather than panicking in the pull path.
		return "session-00000000"
	}
	return "session-" + hex.EncodeToString(b[:])
}
