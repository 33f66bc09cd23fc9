// Package stack implements the voting-session delivery buffer: an ordered
// stack of pre-fetched matchups kept ready so a vote never waits on the
// network, fed by an upstream supplier and guarded by image resolution.
package stack

import (
	"context"
	"sync"

	"github.com/pairvote/pairvote/internal/model"
	"github.com/pairvote/pairvote/internal/resolver"
)

// Visibility is a slot's presentation state.
type Visibility int

const (
	Hidden Visibility = iota
	Visible
)

// Animation is a slot's transition state. Cosmetic; not safety-critical.
type Animation int

const (
	Idle Animation = iota
	EnteringExit
)

// SlotOutcome is the combined image-resolution result for a matchup.
type SlotOutcome int

const (
	Unresolved SlotOutcome = iota
	Ready
	Unrenderable
	Cancelled
)

// ImageResolver is the per-image loading contract the stack depends on.
type ImageResolver interface {
	Resolve(ctx context.Context, ref model.ImageRef) *resolver.LoadState
}

// Slot wraps one matchup session with its presentation state and the load
// state of both images. A slot is owned exclusively by the Manager; its
// position is reassigned whenever the stack shifts.
type Slot struct {
	session model.MatchupSession

	mu         sync.Mutex
	position   int
	visibility Visibility
	animation  Animation
	outcome    SlotOutcome
	left       *resolver.LoadState
	right      *resolver.LoadState
}

func newSlot(session model.MatchupSession) *Slot {
	return &Slot{session: session}
}

// Session returns the wrapped matchup.
func (s *Slot) Session() model.MatchupSession { return s.session }

// resolveImages loads both sides concurrently. The outcome is Ready only
// when both sides load; a single exhausted side makes the whole matchup
// Unrenderable (the pair is shown together, so one broken image
// invalidates both). Retries live entirely in the resolver.
func (s *Slot) resolveImages(ctx context.Context, res ImageResolver) SlotOutcome {
	var wg sync.WaitGroup
	var left, right *resolver.LoadState

	wg.Add(2)
	go func() {
		defer wg.Done()
		left = res.Resolve(ctx, s.session.Left.Image)
	}()
	go func() {
		defer wg.Done()
		right = res.Resolve(ctx, s.session.Right.Image)
	}()
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.left, s.right = left, right

	switch {
	case left.Outcome == resolver.Loaded && right.Outcome == resolver.Loaded:
		s.outcome = Ready
	case left.Outcome == resolver.Exhausted || right.Outcome == resolver.Exhausted:
		s.outcome = Unrenderable
	default:
		// At least one side was cut short by cancellation.
		s.outcome = Cancelled
	}
	return s.outcome
}

// failedSide reports which image exhausted first for discard telemetry.
func (s *Slot) failedSide() (side string, nft model.NFT, cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left != nil && s.left.Outcome == resolver.Exhausted {
		return "left", s.session.Left, s.session.Left.Image.CID
	}
	return "right", s.session.Right, s.session.Right.Image.CID
}

// markVisible makes the slot the active, interactive one.
func (s *Slot) markVisible() {
	s.mu.Lock()
	s.visibility = Visible
	s.animation = Idle
	s.mu.Unlock()
}

// markAnimatingOut starts the slot's exit transition.
func (s *Slot) markAnimatingOut() {
	s.mu.Lock()
	s.animation = EnteringExit
	s.mu.Unlock()
}

func (s *Slot) setPosition(pos int) {
	s.mu.Lock()
	s.position = pos
	if pos != 0 {
		s.visibility = Hidden
	}
	s.mu.Unlock()
}

// Outcome returns the slot's resolution outcome.
func (s *Slot) Outcome() SlotOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// imageURLs returns the resolved URLs once the slot is Ready.
func (s *Slot) imageURLs() (left, right string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left != nil {
		left = s.left.URL
	}
	if s.right != nil {
		right = s.right.URL
	}
	return left, right
}

// info exports the slot state for snapshots.
func (s *Slot) info() model.SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SlotInfo{
		Position:  s.position,
		SessionID: s.session.ID,
		LeftID:    s.session.Left.TokenID,
		RightID:   s.session.Right.TokenID,
		Visible:   s.visibility == Visible,
		Exiting:   s.animation == EnteringExit,
		Resolved:  s.outcome == Ready,
	}
}
