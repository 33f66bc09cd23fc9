// Package votes turns accepted votes into durable records. Each vote is
// journaled synchronously, then flushed to DuckDB in batches so the voting
// hot path never waits on a database write.
package votes

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pairvote/pairvote/internal/journal"
	"github.com/pairvote/pairvote/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

// Journal appends are retried briefly, then the vote falls through to
// DB-only durability so Record stays effectively non-blocking.
const (
	maxJournalAttempts = 3
	journalRetryDelay  = 50 * time.Millisecond
)

type journaledVote struct {
	seq    uint64
	record *model.VoteRecord
}

type durableJournal interface {
	Append(record *model.VoteRecord) (uint64, error)
	Commit(seq uint64) error
	Replay(fn func(seq uint64, record *model.VoteRecord) error) error
	Close() error
}

// Recorder batches vote records and flushes them to storage asynchronously.
// Record() never blocks on DuckDB writes.
type Recorder struct {
	writer        model.VoteWriter
	mu            sync.Mutex
	pending       []journaledVote
	flushChan     chan []journaledVote // async flush queue
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop
	journal       durableJournal

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// Config holds tunable parameters for the vote recorder.
type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        *journal.Journal
}

// NewRecorder creates a vote recorder that flushes to the writer. When a
// journal is configured, uncommitted entries from a previous run are
// replayed into storage before the recorder accepts new votes.
func NewRecorder(writer model.VoteWriter, conf ...Config) (*Recorder, error) {
	batchSize := 50
	flushInterval := 200 * time.Millisecond
	flushQueueSize := DefaultFlushQueueSize
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
	}

	r := &Recorder{
		writer:        writer,
		pending:       make([]journaledVote, 0, batchSize),
		flushChan:     make(chan []journaledVote, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
	if len(conf) > 0 && conf[0].Journal != nil {
		r.journal = conf[0].Journal
	}

	if r.journal != nil {
		if err := r.recover(); err != nil {
			return nil, fmt.Errorf("votes: journal recovery: %w", err)
		}
	}

	r.wg.Add(1)
	go r.flushWorker()

	r.wg.Add(1)
	r.tickWg.Add(1)
	go r.tickLoop()

	return r, nil
}

// recover replays uncommitted journal entries into storage and marks them
// committed. Runs before the flush goroutines start.
func (r *Recorder) recover() error {
	var batch []*model.VoteRecord
	var maxSeq uint64
	err := r.journal.Replay(func(seq uint64, record *model.VoteRecord) error {
		batch = append(batch, record)
		if seq > maxSeq {
			maxSeq = seq
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	if err := r.writer.InsertVoteBatch(batch); err != nil {
		return err
	}
	if err := r.journal.Commit(maxSeq); err != nil {
		return err
	}
	log.Printf("votes: replayed %d journaled votes after restart", len(batch))
	return nil
}

// Record journals and queues one vote. Implements the stack's vote sink.
func (r *Recorder) Record(vote model.VoteRecord) {
	if vote.RecordedAt.IsZero() {
		vote.RecordedAt = time.Now().UTC()
	}

	// Journal writes get a short bounded retry; Record sits on the voting
	// hot path and must not stall on a sick disk. After the budget the
	// vote continues DB-only with seq 0, so no commit is issued for it.
	seq := uint64(0)
	if r.journal != nil {
		for attempt := 1; ; attempt++ {
			var err error
			seq, err = r.journal.Append(&vote)
			if err == nil {
				break
			}
			if attempt >= maxJournalAttempts {
				log.Printf("votes: journal append failed %d times, recording without journal durability: %v", attempt, err)
				seq = 0
				break
			}
			log.Printf("votes: journal append failed, retrying: %v", err)
			select {
			case <-r.done:
				return
			case <-time.After(journalRetryDelay):
			}
		}
	}

	r.mu.Lock()
	r.pending = append(r.pending, journaledVote{seq: seq, record: &vote})
	shouldFlush := len(r.pending) >= r.maxBatch
	var batch []journaledVote
	if shouldFlush {
		batch = r.pending
		r.pending = make([]journaledVote, 0, r.maxBatch)
	}
	r.mu.Unlock()

	if shouldFlush {
		select {
		case r.flushChan <- batch:
		default:
			// Backpressure safety valve: flush inline instead of spawning
			// unbounded goroutines under sustained overload.
			r.logBackpressure()
			if err := r.flushBatch(batch); err != nil {
				log.Printf("votes flush error (overflow-inline): %v", err)
			}
		}
	}
}

// tickLoop periodically drains the pending buffer.
func (r *Recorder) tickLoop() {
	defer r.wg.Done()
	defer r.tickWg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.drainPending()
		case <-r.done:
			r.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (r *Recorder) logBackpressure() {
	count := r.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := r.lastBPLog.Load()
	if now-last >= 10 && r.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("votes: backpressure — %d inline flushes (flush channel full, DuckDB falling behind)", count)
	}
}

// drainPending moves pending records to the flush channel without blocking on DuckDB.
func (r *Recorder) drainPending() {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = make([]journaledVote, 0, r.maxBatch)
	r.mu.Unlock()

	select {
	case r.flushChan <- batch:
	default:
		r.logBackpressure()
		if err := r.flushBatch(batch); err != nil {
			log.Printf("votes flush error (inline): %v", err)
		}
	}
}

// flushWorker processes batches from the flush channel.
func (r *Recorder) flushWorker() {
	defer r.wg.Done()
	for batch := range r.flushChan {
		if err := r.flushBatch(batch); err != nil {
			log.Printf("votes flush error: %v", err)
		}
	}
}

func (r *Recorder) flushBatch(batch []journaledVote) error {
	if len(batch) == 0 {
		return nil
	}

	records := make([]*model.VoteRecord, 0, len(batch))
	for _, item := range batch {
		records = append(records, item.record)
	}

	if err := r.writer.InsertVoteBatch(records); err != nil {
		return err
	}

	if r.journal != nil {
		maxSeq := uint64(0)
		for _, item := range batch {
			if item.seq > maxSeq {
				maxSeq = item.seq
			}
		}
		if maxSeq > 0 {
			if err := r.journal.Commit(maxSeq); err != nil {
				return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
			}
		}
	}
	return nil
}

// Stop flushes remaining records and waits for all writes to complete.
func (r *Recorder) Stop() {
	close(r.done)
	// Wait for tickLoop to finish its final drain before closing flushChan,
	// ensuring all pending records are sent to the flush channel.
	r.tickWg.Wait()
	close(r.flushChan)
	r.wg.Wait()
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			log.Printf("votes: journal close error: %v", err)
		}
	}
}
