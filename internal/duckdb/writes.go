package duckdb

import (
	"context"
	"fmt"
	"log"
	"time"
)

// InsertNFTBatch upserts a batch of catalog records in a single transaction.
// Re-ingesting a token updates its metadata but preserves the accumulated
// matchup and win counters. If the batch fails it is retried record-by-record
// to salvage as many records as possible.
func (s *Store) InsertNFTBatch(records []*NFT) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertNFTBatchTx(ctx, records)
	if err == nil {
		return nil
	}

	var failed int
	for _, r := range records {
		if rerr := s.insertNFTBatchTx(ctx, []*NFT{r}); rerr != nil {
			failed++
			log.Printf("duckdb: dropping nft (token=%s): %v", r.TokenID, rerr)
		}
	}
	if failed > 0 {
		log.Printf("duckdb: nft batch partially failed — %d/%d records dropped", failed, len(records))
	}
	return nil
}

func (s *Store) insertNFTBatchTx(ctx context.Context, records []*NFT) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nfts (token_id, collection, name, image_cid, image_url_hint, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (token_id) DO UPDATE SET
			collection     = excluded.collection,
			name           = excluded.name,
			image_cid      = excluded.image_cid,
			image_url_hint = excluded.image_url_hint`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		addedAt := r.AddedAt
		if addedAt.IsZero() {
			addedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.TokenID, r.Collection, r.Name, r.Image.CID, r.Image.URLHint, addedAt); err != nil {
			return fmt.Errorf("nft insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// InsertVoteBatch appends votes and bumps the winner and loser counters in a
// single transaction per batch. A failed batch is retried record-by-record.
func (s *Store) InsertVoteBatch(records []*VoteRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertVoteBatchTx(ctx, records)
	if err == nil {
		return nil
	}

	var failed int
	for _, r := range records {
		if rerr := s.insertVoteBatchTx(ctx, []*VoteRecord{r}); rerr != nil {
			failed++
			log.Printf("duckdb: dropping vote (session=%s winner=%s): %v", r.SessionID, r.WinnerID, rerr)
		}
	}
	if failed > 0 {
		log.Printf("duckdb: vote batch partially failed — %d/%d records dropped", failed, len(records))
	}
	return nil
}

func (s *Store) insertVoteBatchTx(ctx context.Context, records []*VoteRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	voteStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO votes (session_id, winner_id, loser_id, super_vote, kind, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer voteStmt.Close()

	winStmt, err := tx.PrepareContext(ctx, `
		UPDATE nfts SET matchups = matchups + 1, wins = wins + 1 WHERE token_id = ?`)
	if err != nil {
		return err
	}
	defer winStmt.Close()

	loseStmt, err := tx.PrepareContext(ctx, `
		UPDATE nfts SET matchups = matchups + 1 WHERE token_id = ?`)
	if err != nil {
		return err
	}
	defer loseStmt.Close()

	for _, r := range records {
		recordedAt := r.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now().UTC()
		}
		kind := string(r.Kind)
		if kind == "" {
			kind = "standard"
		}
		if _, err := voteStmt.ExecContext(ctx, r.SessionID, r.WinnerID, r.LoserID, r.SuperVote, kind, recordedAt); err != nil {
			return fmt.Errorf("vote insert: %w", err)
		}
		if _, err := winStmt.ExecContext(ctx, r.WinnerID); err != nil {
			return fmt.Errorf("winner counter update: %w", err)
		}
		if _, err := loseStmt.ExecContext(ctx, r.LoserID); err != nil {
			return fmt.Errorf("loser counter update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// InsertDiscard records one discard event. Discards are low-volume telemetry
// so each is written directly.
func (s *Store) InsertDiscard(record *DiscardRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	occurredAt := record.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discards (session_id, failed_side, token_id, cid, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.SessionID, record.FailedSide, record.TokenID, record.CID, occurredAt)
	return err
}

// UpsertGatewayStats persists the current gateway success counters so
// learned rankings survive restarts.
func (s *Store) UpsertGatewayStats(stats []GatewayStat) error {
	if len(stats) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gateway_stats (base_url, success_count, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (base_url) DO UPDATE SET
			success_count = excluded.success_count,
			updated_at    = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx, st.BaseURL, st.SuccessCount, now); err != nil {
			return fmt.Errorf("gateway stat upsert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// LoadGatewayStats returns persisted gateway success counters keyed by base URL.
func (s *Store) LoadGatewayStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT base_url, success_count FROM gateway_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var base string
		var count int64
		if err := rows.Scan(&base, &count); err != nil {
			log.Printf("duckdb scan error (LoadGatewayStats): %v", err)
			continue
		}
		result[base] = count
	}
	return result, rows.Err()
}
