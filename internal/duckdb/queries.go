package duckdb

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
// Used as defense-in-depth after comment stripping and semicolon rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// collectionFilter returns a WHERE clause and args when opts.Collection is non-empty.
func collectionFilter(opts QueryOpts) (clause string, args []interface{}) {
	if opts.Collection != "" {
		return "WHERE collection = ?", []interface{}{opts.Collection}
	}
	return "", nil
}

// CatalogCount returns the number of NFTs in the catalog.
func (s *Store) CatalogCount(opts QueryOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := collectionFilter(opts)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM nfts %s`, where)

	var count int64
	err := s.db.QueryRowContext(ctx, query, wArgs...).Scan(&count)
	return count, err
}

// VoteTotals returns aggregate vote counters, including super votes and
// the count of votes recorded in the last hour.
func (s *Store) VoteTotals() (VoteTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	cutoff := time.Now().UTC().Add(-time.Hour)

	var vt VoteTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN super_vote THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN recorded_at >= ? THEN 1 ELSE 0 END), 0)
		FROM votes`, cutoff).Scan(&vt.Total, &vt.Super, &vt.LastHour)
	return vt, err
}

// DiscardCount returns the number of recorded discard events.
func (s *Store) DiscardCount() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM discards`).Scan(&count)
	return count, err
}

// RecentVotes returns the most recent votes, newest first.
func (s *Store) RecentVotes(limit int) ([]VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, winner_id, loser_id, super_vote, kind, recorded_at
		FROM votes
		ORDER BY recorded_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []VoteRecord
	for rows.Next() {
		var v VoteRecord
		var kind string
		if err := rows.Scan(&v.SessionID, &v.WinnerID, &v.LoserID, &v.SuperVote, &kind, &v.RecordedAt); err != nil {
			log.Printf("duckdb scan error (RecentVotes): %v", err)
			continue
		}
		v.Kind = SessionKind(kind)
		results = append(results, v)
	}
	return results, rows.Err()
}

// ListCollections returns all distinct collection names in the catalog.
func (s *Store) ListCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM nfts ORDER BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			log.Printf("duckdb scan error (ListCollections): %v", err)
			continue
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

// TopNFTs returns NFTs ranked by wins, then matchup count.
func (s *Store) TopNFTs(limit int, opts QueryOpts) ([]NFT, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := collectionFilter(opts)
	query := fmt.Sprintf(`
		SELECT token_id, collection, name, image_cid, image_url_hint, matchups, wins, added_at
		FROM nfts %s
		ORDER BY wins DESC, matchups DESC, token_id ASC
		LIMIT ?`, where)

	args := append(wArgs, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []NFT
	for rows.Next() {
		var n NFT
		if err := rows.Scan(&n.TokenID, &n.Collection, &n.Name, &n.Image.CID, &n.Image.URLHint, &n.Matchups, &n.Wins, &n.AddedAt); err != nil {
			log.Printf("duckdb scan error (TopNFTs): %v", err)
			continue
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// PairCandidates returns n random NFTs, biased toward entries that have
// appeared in the fewest matchups so new catalog entries surface quickly.
func (s *Store) PairCandidates(n int, opts QueryOpts) ([]NFT, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, wArgs := collectionFilter(opts)
	query := fmt.Sprintf(`
		SELECT token_id, collection, name, image_cid, image_url_hint, matchups, wins, added_at
		FROM (
			SELECT * FROM nfts %s
			ORDER BY matchups ASC, random()
			LIMIT ?
		)
		ORDER BY random()`, where)

	// Draw from a pool larger than n so low-matchup entries do not always
	// pair with the same partners.
	pool := n * 8
	if pool < 16 {
		pool = 16
	}
	args := append(wArgs, pool)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []NFT
	for rows.Next() {
		var c NFT
		if err := rows.Scan(&c.TokenID, &c.Collection, &c.Name, &c.Image.CID, &c.Image.URLHint, &c.Matchups, &c.Wins, &c.AddedAt); err != nil {
			log.Printf("duckdb scan error (PairCandidates): %v", err)
			continue
		}
		results = append(results, c)
		if len(results) >= n {
			break
		}
	}
	return results, rows.Err()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	maxRows := 1000

	for rows.Next() && len(results) < maxRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			log.Printf("duckdb scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable schema description.
func (s *Store) GetSchemaDescription() string {
	return `Table 'nfts': token_id (VARCHAR PK), collection (VARCHAR), name (VARCHAR), ` +
		`image_cid (VARCHAR), image_url_hint (VARCHAR), matchups (BIGINT), wins (BIGINT), added_at (TIMESTAMP). ` +
		`Table 'votes': session_id (VARCHAR), winner_id (VARCHAR), loser_id (VARCHAR), ` +
		`super_vote (BOOLEAN), kind (VARCHAR), recorded_at (TIMESTAMP). ` +
		`Table 'discards': session_id (VARCHAR), failed_side (VARCHAR: left/right), token_id (VARCHAR), ` +
		`cid (VARCHAR), occurred_at (TIMESTAMP). ` +
		`Table 'gateway_stats': base_url (VARCHAR PK), success_count (BIGINT), updated_at (TIMESTAMP).`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"nfts", "votes", "discards", "gateway_stats"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
