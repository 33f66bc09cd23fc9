package stack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pairvote/pairvote/internal/model"
	"github.com/pairvote/pairvote/internal/resolver"
)

func session(id, left, right string) *model.MatchupSession {
	return &model.MatchupSession{
		ID:   id,
		Left: model.NFT{TokenID: left, Name: left, Image: model.ImageRef{CID: "cid-" + left}},
		Right: model.NFT{
			TokenID: right, Name: right, Image: model.ImageRef{CID: "cid-" + right},
		},
		Kind: model.KindStandard,
	}
}

// fakeSupplier hands out queued sessions in call order, optionally
// sleeping per session so completion order differs from request order.
type fakeSupplier struct {
	mu       sync.Mutex
	sessions []*model.MatchupSession
	delays   map[string]time.Duration // session ID -> sleep before returning
	pulls    int
	block    bool // park every call until ctx is done
}

func (f *fakeSupplier) NextSession(ctx context.Context) (*model.MatchupSession, error) {
	f.mu.Lock()
	f.pulls++
	var s *model.MatchupSession
	if len(f.sessions) > 0 {
		s = f.sessions[0]
		f.sessions = f.sessions[1:]
	}
	block := f.block
	var delay time.Duration
	if s != nil && f.delays != nil {
		delay = f.delays[s.ID]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s, nil
}

func (f *fakeSupplier) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls
}

// fakeResolver loads every image instantly except the listed CIDs.
type fakeResolver struct {
	mu  sync.Mutex
	bad map[string]bool
}

func (f *fakeResolver) markBad(cid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bad == nil {
		f.bad = make(map[string]bool)
	}
	f.bad[cid] = true
}

func (f *fakeResolver) Resolve(ctx context.Context, ref model.ImageRef) *resolver.LoadState {
	if ctx.Err() != nil {
		return &resolver.LoadState{Ref: ref, Err: ctx.Err()}
	}
	f.mu.Lock()
	bad := f.bad[ref.CID]
	f.mu.Unlock()
	if bad {
		return &resolver.LoadState{
			Ref: ref, Attempts: 2, Outcome: resolver.Exhausted,
			Err: errors.New("all gateways failed"),
		}
	}
	return &resolver.LoadState{
		Ref: ref, Attempts: 1, Outcome: resolver.Loaded,
		URL:     "https://gw.example/ipfs/" + ref.CID,
		Gateway: "https://gw.example",
	}
}

type captureVotes struct {
	mu    sync.Mutex
	votes []model.VoteRecord
}

func (c *captureVotes) Record(v model.VoteRecord) {
	c.mu.Lock()
	c.votes = append(c.votes, v)
	c.mu.Unlock()
}

func (c *captureVotes) all() []model.VoteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.VoteRecord, len(c.votes))
	copy(out, c.votes)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func checkPositions(t *testing.T, snap model.StackSnapshot) {
	t.Helper()
	for i, slot := range snap.Slots {
		if slot.Position != i {
			t.Errorf("slot %d has position %d; positions must be contiguous", i, slot.Position)
		}
	}
}

func TestInitialize_PositionsFollowRequestOrder(t *testing.T) {
	// The earliest-issued pull is the slowest to complete; a
	// completion-ordered stack would come out reversed.
	sup := &fakeSupplier{
		sessions: []*model.MatchupSession{
			session("s1", "a", "b"), session("s2", "c", "d"), session("s3", "e", "f"),
		},
		delays: map[string]time.Duration{"s1": 90 * time.Millisecond, "s2": 50 * time.Millisecond},
	}
	m := NewManager(sup, &fakeResolver{}, Config{Depth: 3, TransitionDelay: time.Millisecond})
	defer m.Close()

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	snap := m.Snapshot()
	if snap.Depth != 3 {
		t.Fatalf("depth = %d, want 3", snap.Depth)
	}
	want := []string{"s1", "s2", "s3"}
	for i, id := range want {
		if snap.Slots[i].SessionID != id {
			t.Errorf("position %d = %q, want %q", i, snap.Slots[i].SessionID, id)
		}
	}
	if !snap.Slots[0].Visible {
		t.Error("front slot must be visible")
	}
	if snap.Slots[1].Visible || snap.Slots[2].Visible {
		t.Error("only the front slot may be visible")
	}
	checkPositions(t, snap)
}

func TestConsume_RecordsVoteAndReplenishes(t *testing.T) {
	sup := &fakeSupplier{sessions: []*model.MatchupSession{
		session("s1", "a", "b"), session("s2", "c", "d"),
		session("s3", "e", "f"), session("s4", "g", "h"),
	}}
	votes := &captureVotes{}
	m := NewManager(sup, &fakeResolver{}, Config{
		Depth: 3, TransitionDelay: 5 * time.Millisecond, Votes: votes,
	})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, ok := m.ActiveMatchup()
		return ok
	}, "front slot resolved")

	if err := m.Consume("b", false); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	got := votes.all()
	if len(got) != 1 {
		t.Fatalf("votes recorded = %d, want 1", len(got))
	}
	if got[0].WinnerID != "b" || got[0].LoserID != "a" || got[0].SuperVote {
		t.Errorf("vote = %+v, want winner b, loser a, not super", got[0])
	}
	if got[0].SessionID != "s1" {
		t.Errorf("vote session = %q, want s1", got[0].SessionID)
	}

	waitFor(t, time.Second, func() bool {
		snap := m.Snapshot()
		return snap.Depth == 3 && snap.Slots[0].SessionID == "s2"
	}, "stack replenished to 3 with s2 in front")
	checkPositions(t, m.Snapshot())
	if sup.pullCount() != 4 {
		t.Errorf("pulls = %d, want 4 (3 initial + 1 replenishment)", sup.pullCount())
	}
}

func TestConsume_UnknownWinnerRejected(t *testing.T) {
	sup := &fakeSupplier{sessions: []*model.MatchupSession{session("s1", "a", "b")}}
	m := NewManager(sup, &fakeResolver{}, Config{Depth: 1, TransitionDelay: time.Millisecond})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := m.Consume("nobody", false); !errors.Is(err, ErrUnknownWinner) {
		t.Errorf("Consume(nobody) = %v, want ErrUnknownWinner", err)
	}
}

func TestConsume_EmptyStack(t *testing.T) {
	m := NewManager(&fakeSupplier{}, &fakeResolver{}, Config{Depth: 3, TransitionDelay: time.Millisecond})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Consume("a", false); !errors.Is(err, ErrNoActiveSlot) {
		t.Errorf("Consume on empty stack = %v, want ErrNoActiveSlot", err)
	}
	if _, ok := m.ActiveMatchup(); ok {
		t.Error("empty stack reported an active matchup")
	}
}

func TestUnrenderableSlot_DiscardedBeforeVisible(t *testing.T) {
	res := &fakeResolver{}
	res.markBad("cid-c") // left image of s2, which sits hidden at position 1
	sup := &fakeSupplier{sessions: []*model.MatchupSession{
		session("s1", "a", "b"), session("s2", "c", "d"),
		session("s3", "e", "f"), session("s4", "g", "h"),
	}}
	var discardMu sync.Mutex
	var discards []model.DiscardRecord
	m := NewManager(sup, res, Config{
		Depth: 3, TransitionDelay: time.Millisecond,
		OnDiscard: func(d model.DiscardRecord) {
			discardMu.Lock()
			discards = append(discards, d)
			discardMu.Unlock()
		},
	})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		snap := m.Snapshot()
		if snap.Depth != 3 {
			return false
		}
		for _, s := range snap.Slots {
			if s.SessionID == "s2" || !s.Resolved {
				return false
			}
		}
		return true
	}, "s2 replaced by s4 and all slots resolved")

	discardMu.Lock()
	defer discardMu.Unlock()
	if len(discards) != 1 {
		t.Fatalf("discard notifications = %d, want 1", len(discards))
	}
	if discards[0].SessionID != "s2" || discards[0].FailedSide != "left" || discards[0].TokenID != "c" {
		t.Errorf("discard = %+v, want s2/left/c", discards[0])
	}
	if sup.pullCount() != 4 {
		t.Errorf("pulls = %d, want 4 (exactly one per removal)", sup.pullCount())
	}
}

func TestRapidConsumes_ExactlyOnePullPerRemoval(t *testing.T) {
	sessions := []*model.MatchupSession{
		session("s1", "a", "b"), session("s2", "c", "d"), session("s3", "e", "f"),
		session("s4", "g", "h"), session("s5", "i", "j"), session("s6", "k", "l"),
	}
	sup := &fakeSupplier{sessions: sessions}
	m := NewManager(sup, &fakeResolver{}, Config{Depth: 3, TransitionDelay: 20 * time.Millisecond})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, ok := m.ActiveMatchup()
		return ok
	}, "front resolved")

	// Second vote lands inside the first transition window and must queue.
	if err := m.Consume("a", false); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if err := m.Consume("c", true); err != nil {
		t.Fatalf("second Consume: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return m.Depth() == 3 && sup.pullCount() == 5
	}, "two removals, two pulls, stack back to 3")
	checkPositions(t, m.Snapshot())

	snap := m.Snapshot()
	if snap.Consumed != 2 {
		t.Errorf("consumed = %d, want 2", snap.Consumed)
	}
	if snap.Slots[0].SessionID != "s3" {
		t.Errorf("front = %q, want s3", snap.Slots[0].SessionID)
	}
}

func TestSupplierStarvation_StackRunsShort(t *testing.T) {
	sup := &fakeSupplier{sessions: []*model.MatchupSession{session("s1", "a", "b")}}
	m := NewManager(sup, &fakeResolver{}, Config{Depth: 3, TransitionDelay: time.Millisecond})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if got := m.Depth(); got != 1 {
		t.Fatalf("depth = %d, want 1 under starvation", got)
	}
	waitFor(t, time.Second, func() bool {
		_, ok := m.ActiveMatchup()
		return ok
	}, "lone slot resolved")

	if err := m.Consume("a", false); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	waitFor(t, time.Second, func() bool { return m.Depth() == 0 }, "stack drained")
	if _, ok := m.ActiveMatchup(); ok {
		t.Error("drained stack must report no active matchup (loading state)")
	}
}

func TestRefillLoop_RecoversAfterStarvation(t *testing.T) {
	sup := &fakeSupplier{}
	m := NewManager(sup, &fakeResolver{}, Config{
		Depth: 2, TransitionDelay: time.Millisecond, RefillInterval: 10 * time.Millisecond,
	})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.Depth() != 0 {
		t.Fatalf("depth = %d, want 0 with empty supplier", m.Depth())
	}

	sup.mu.Lock()
	sup.sessions = []*model.MatchupSession{session("s1", "a", "b"), session("s2", "c", "d")}
	sup.mu.Unlock()

	waitFor(t, 2*time.Second, func() bool { return m.Depth() == 2 }, "refill loop topped up the stack")
	checkPositions(t, m.Snapshot())
}

func TestReset_RebuildsFromSupplier(t *testing.T) {
	sup := &fakeSupplier{sessions: []*model.MatchupSession{
		session("s1", "a", "b"), session("s2", "c", "d"),
	}}
	m := NewManager(sup, &fakeResolver{}, Config{Depth: 1, TransitionDelay: time.Millisecond})
	defer m.Close()
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	snap := m.Snapshot()
	if snap.Depth != 1 || snap.Slots[0].SessionID != "s2" {
		t.Errorf("after reset: %+v, want one slot holding s2", snap.Slots)
	}
}

func TestClose_UnblocksPendingPulls(t *testing.T) {
	sup := &fakeSupplier{block: true}
	m := NewManager(sup, &fakeResolver{}, Config{Depth: 2, TransitionDelay: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- m.Initialize(context.Background()) }()

	// Give the initial pulls a moment to park on the supplier.
	time.Sleep(10 * time.Millisecond)
	m.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Initialize after Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock pending pulls")
	}
}
