package duckdb

import (
	"context"
	"log"
	"sync"
	"time"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
}

// DeleteDiscardsBefore removes discard telemetry older than the cutoff and
// returns the number of rows deleted. Votes and the catalog are never aged out.
func (s *Store) DeleteDiscardsBefore(cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM discards WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return rows, nil
}

// RetentionCleaner periodically deletes discard telemetry older than the
// configured retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner creates a retention cleaner that deletes expired
// discard records. Returns nil when retention is 0 (disabled).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 30
	if len(conf) > 0 {
		days = conf[0].RetentionDays
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: days,
		done:          make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	rc.tickWg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	defer rc.tickWg.Done()
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	rows, err := rc.store.DeleteDiscardsBefore(cutoff)
	if err != nil {
		log.Printf("duckdb: retention cleanup error: %v", err)
		return
	}
	if rows > 0 {
		log.Printf("duckdb: retention cleanup deleted %d expired discards (older than %d days)", rows, rc.retentionDays)
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.tickWg.Wait()
		rc.wg.Wait()
	})
}
