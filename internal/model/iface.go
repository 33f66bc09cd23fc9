package model

// QueryOpts holds optional filters applied to catalog queries.
type QueryOpts struct {
	Collection string // empty = all collections
}

// StatsQuerier provides read-only queries on catalog and vote data.
type StatsQuerier interface {
	CatalogCount(opts QueryOpts) (int64, error)
	VoteTotals() (VoteTotals, error)
	DiscardCount() (int64, error)
	RecentVotes(limit int) ([]VoteRecord, error)
	ListCollections() ([]string, error)
	TopNFTs(limit int, opts QueryOpts) ([]NFT, error)
}

// CatalogWriter provides append-oriented writes for ingested NFT records.
type CatalogWriter interface {
	InsertNFTBatch(records []*NFT) error
}

// VoteWriter provides append-oriented writes for recorded votes.
type VoteWriter interface {
	InsertVoteBatch(records []*VoteRecord) error
}

// DiscardWriter persists discard telemetry.
type DiscardWriter interface {
	InsertDiscard(record *DiscardRecord) error
}
