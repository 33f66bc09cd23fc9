package stack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pairvote/pairvote/internal/model"
	"golang.org/x/sync/errgroup"
)

// Supplier is the upstream source of matchup sessions. A nil session with
// nil error means "temporarily empty"; the manager does not retry inline.
type Supplier interface {
	NextSession(ctx context.Context) (*model.MatchupSession, error)
}

// VoteRecorder receives completed votes. Calls must not block; failures
// are the recorder's problem — the stack has already advanced.
type VoteRecorder interface {
	Record(vote model.VoteRecord)
}

// Errors surfaced to API callers.
var (
	ErrNoActiveSlot  = errors.New("stack: no active matchup")
	ErrUnknownWinner = errors.New("stack: winner is not part of the active matchup")
	ErrClosed        = errors.New("stack: manager is closed")
)

// Config tunes the stack manager.
type Config struct {
	Depth           int           // target buffer size N
	TransitionDelay time.Duration // exit animation window on consume
	RefillInterval  time.Duration // background top-up period, 0 = disabled
	Votes           VoteRecorder
	OnDiscard       func(model.DiscardRecord) // image-failure notification hook
}

// ActiveView is what the HTTP API serves for the active matchup.
type ActiveView struct {
	Session  model.MatchupSession `json:"session"`
	LeftURL  string               `json:"left_url"`
	RightURL string               `json:"right_url"`
}

type removal struct {
	slot  *Slot
	delay time.Duration
}

// Manager maintains the ordered buffer of matchup slots, replenishing it
// asynchronously from the supplier. At most one consume/discard transition
// is in flight at a time; later requests queue.
type Manager struct {
	supplier Supplier
	resolver ImageResolver

	depth           int
	transitionDelay time.Duration
	refillInterval  time.Duration
	votes           VoteRecorder
	onDiscard       func(model.DiscardRecord)

	mu            sync.Mutex
	slots         []*Slot
	outstanding   int // replenishment pulls in flight
	transitioning bool
	queued        []removal
	consumed      int64
	discarded     int64
	closed        bool
	initialized   bool

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires a manager from its collaborators. Zero config fields
// fall back to the shared defaults.
func NewManager(sup Supplier, res ImageResolver, cfg Config) *Manager {
	depth := cfg.Depth
	if depth <= 0 {
		depth = model.DefaultStackDepth
	}
	delay := cfg.TransitionDelay
	if delay <= 0 {
		delay = model.DefaultTransitionDelay
	}
	return &Manager{
		supplier:        sup,
		resolver:        res,
		depth:           depth,
		transitionDelay: delay,
		refillInterval:  cfg.RefillInterval,
		votes:           cfg.Votes,
		onDiscard:       cfg.OnDiscard,
	}
}

// Initialize issues exactly depth pulls concurrently and builds the stack.
// Slot position is assigned by request order issued, not completion order,
// so the first matchup a user sees is deterministic even when responses
// interleave. Only position 0 is visible. Returns once all pulls settle;
// image resolution continues in the background.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized && !m.closed {
		m.mu.Unlock()
		return fmt.Errorf("stack: already initialized")
	}
	m.parent = ctx
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.closed = false
	m.initialized = true
	m.slots = nil
	m.queued = nil
	m.transitioning = false
	m.outstanding = 0
	runCtx := m.ctx
	m.mu.Unlock()

	results := make([]*model.MatchupSession, m.depth)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < m.depth; i++ {
		i := i
		g.Go(func() error {
			session, err := m.supplier.NextSession(gctx)
			if err != nil {
				log.Printf("stack: initial pull %d failed: %v", i, err)
				return nil // starvation and pull errors both leave a gap
			}
			results[i] = session
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	for _, session := range results {
		if session == nil {
			continue
		}
		slot := newSlot(*session)
		m.slots = append(m.slots, slot)
	}
	m.reindexLocked()
	pending := make([]*Slot, len(m.slots))
	copy(pending, m.slots)
	m.mu.Unlock()

	for _, slot := range pending {
		m.startResolve(slot)
	}

	if m.refillInterval > 0 {
		m.wg.Add(1)
		go m.refillLoop(runCtx)
	}
	return nil
}

// Consume records a vote for the active matchup and begins the exit
// transition: the front slot animates out while the next slot becomes
// visible, and after the transition delay the front slot is removed and
// exactly one replenishment pull is scheduled. The vote itself is
// forwarded fire-and-forget before the transition starts.
func (m *Manager) Consume(winnerID string, superVote bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	slot := m.activeSlotLocked()
	if slot == nil {
		m.mu.Unlock()
		return ErrNoActiveSlot
	}

	session := slot.Session()
	var loserID string
	switch winnerID {
	case session.Left.TokenID:
		loserID = session.Right.TokenID
	case session.Right.TokenID:
		loserID = session.Left.TokenID
	default:
		m.mu.Unlock()
		return ErrUnknownWinner
	}

	m.consumed++
	m.enqueueRemovalLocked(removal{slot: slot, delay: m.transitionDelay})
	m.mu.Unlock()

	if m.votes != nil {
		m.votes.Record(model.VoteRecord{
			SessionID:  session.ID,
			WinnerID:   winnerID,
			LoserID:    loserID,
			SuperVote:  superVote,
			Kind:       session.Kind,
			RecordedAt: time.Now().UTC(),
		})
	}
	return nil
}

// Discard removes the active matchup without a transition delay and fires
// the image-failure notification hook. Used when the active slot's images
// exhaust, and by the operator skip endpoint.
func (m *Manager) Discard() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	slot := m.activeSlotLocked()
	if slot == nil {
		m.mu.Unlock()
		return ErrNoActiveSlot
	}
	m.enqueueRemovalLocked(removal{slot: slot})
	m.mu.Unlock()

	m.notifyDiscard(slot)
	return nil
}

// ActiveMatchup returns the front slot's session with resolved image URLs.
// ok is false while the stack is empty or the front images are still
// resolving — callers render a loading state, never a broken image.
func (m *Manager) ActiveMatchup() (ActiveView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.slots) == 0 {
		return ActiveView{}, false
	}
	front := m.slots[0]
	if front.Outcome() != Ready {
		return ActiveView{}, false
	}
	left, right := front.imageURLs()
	return ActiveView{
		Session:  front.Session(),
		LeftURL:  left,
		RightURL: right,
	}, true
}

// Snapshot exports the stack state for status surfaces.
func (m *Manager) Snapshot() model.StackSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := model.StackSnapshot{
		TargetDepth: m.depth,
		Depth:       len(m.slots),
		Discards:    m.discarded,
		Consumed:    m.consumed,
	}
	for _, slot := range m.slots {
		snap.Slots = append(snap.Slots, slot.info())
	}
	return snap
}

// Depth returns the current stack length.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Reset tears the stack down and rebuilds it from the supplier. Replaces
// the console-attached reset scaffolding of the original client.
func (m *Manager) Reset() error {
	m.mu.Lock()
	parent := m.parent
	m.mu.Unlock()
	if parent == nil {
		return fmt.Errorf("stack: reset before initialize")
	}
	m.Close()
	return m.Initialize(parent)
}

// Close cancels pending pulls, resolver attempts and transition timers,
// then waits for background work to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queued = nil
	m.transitioning = false
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// activeSlotLocked returns the interactive slot: the first one not mid-exit.
// During a consume transition that is the next slot, which is already
// visible to the user.
func (m *Manager) activeSlotLocked() *Slot {
	for _, slot := range m.slots {
		slot.mu.Lock()
		exiting := slot.animation == EnteringExit
		slot.mu.Unlock()
		if !exiting {
			return slot
		}
	}
	return nil
}

// enqueueRemovalLocked serializes removals: one in flight, later ones queue.
func (m *Manager) enqueueRemovalLocked(r removal) {
	if m.transitioning {
		m.queued = append(m.queued, r)
		return
	}
	m.startRemovalLocked(r)
}

func (m *Manager) startRemovalLocked(r removal) {
	m.transitioning = true
	r.slot.markAnimatingOut()
	// Reveal the successor immediately; the exit animation plays over it.
	for _, slot := range m.slots {
		if slot != r.slot {
			slot.markVisible()
			break
		}
	}

	runCtx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-runCtx.Done():
				return
			}
		}
		m.finishRemoval(r)
	}()
}

func (m *Manager) finishRemoval(r removal) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	removed := m.removeSlotLocked(r.slot)
	m.transitioning = false
	if len(m.queued) > 0 {
		next := m.queued[0]
		m.queued = m.queued[1:]
		m.startRemovalLocked(next)
	}
	m.mu.Unlock()

	// Exactly one pull per removal; a removal that found its slot already
	// gone (double vote on the same matchup) schedules nothing.
	if removed {
		m.replenish()
	}
}

// removeSlotLocked splices slot out and re-indexes positions to a
// contiguous 0..len-1 sequence. Returns false when the slot is not there.
func (m *Manager) removeSlotLocked(target *Slot) bool {
	for i, slot := range m.slots {
		if slot == target {
			m.slots = append(m.slots[:i], m.slots[i+1:]...)
			m.reindexLocked()
			return true
		}
	}
	return false
}

func (m *Manager) reindexLocked() {
	for i, slot := range m.slots {
		slot.setPosition(i)
	}
	if len(m.slots) > 0 {
		m.slots[0].markVisible()
	}
}

// startResolve resolves a slot's images in the background. An
// unrenderable matchup is removed before it is ever shown — or, if it is
// already the active slot, immediately replaced.
func (m *Manager) startResolve(slot *Slot) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		outcome := slot.resolveImages(m.ctx, m.resolver)
		if outcome != Unrenderable {
			return
		}
		m.notifyDiscard(slot)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if len(m.slots) > 0 && m.slots[0] == slot {
			// Active slot: go through the transition machinery with no
			// delay so queued votes stay ordered.
			m.enqueueRemovalLocked(removal{slot: slot})
			m.mu.Unlock()
			return
		}
		removed := m.removeSlotLocked(slot)
		m.mu.Unlock()
		if removed {
			m.replenish()
		}
	}()
}

// replenish schedules exactly one upstream pull and appends the result at
// the tail, regardless of how quickly the pull resolves. A nil session
// leaves the stack short; the refill loop (when enabled) retries later.
func (m *Manager) replenish() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.outstanding++
	runCtx := m.ctx
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		session, err := m.supplier.NextSession(runCtx)

		m.mu.Lock()
		m.outstanding--
		if m.closed {
			m.mu.Unlock()
			return
		}
		if err != nil {
			m.mu.Unlock()
			if runCtx.Err() == nil {
				log.Printf("stack: replenishment pull failed: %v", err)
			}
			return
		}
		if session == nil {
			m.mu.Unlock()
			return
		}
		if len(m.slots) >= m.depth {
			m.mu.Unlock()
			return
		}
		slot := newSlot(*session)
		m.slots = append(m.slots, slot)
		m.reindexLocked()
		m.mu.Unlock()

		m.startResolve(slot)
	}()
}

// refillLoop tops the stack back up after supplier starvation, one pull
// per missing slot per tick.
func (m *Manager) refillLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			missing := m.depth - len(m.slots) - m.outstanding
			m.mu.Unlock()
			for i := 0; i < missing; i++ {
				m.replenish()
			}
		}
	}
}

func (m *Manager) notifyDiscard(slot *Slot) {
	m.mu.Lock()
	m.discarded++
	hook := m.onDiscard
	m.mu.Unlock()
	if hook == nil {
		return
	}
	side, nft, cid := slot.failedSide()
	hook(model.DiscardRecord{
		SessionID:  slot.Session().ID,
		FailedSide: side,
		TokenID:    nft.TokenID,
		CID:        cid,
		OccurredAt: time.Now().UTC(),
	})
}
