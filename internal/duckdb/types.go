package duckdb

import "github.com/pairvote/pairvote/internal/model"

// Type aliases re-export model types so duckdb.Store method signatures
// stay readable without importing model at every call site.
type NFT = model.NFT
type SessionKind = model.SessionKind
type VoteRecord = model.VoteRecord
type DiscardRecord = model.DiscardRecord
type GatewayStat = model.GatewayStat
type VoteTotals = model.VoteTotals
type QueryOpts = model.QueryOpts
type StatsQuerier = model.StatsQuerier
type CatalogWriter = model.CatalogWriter
type VoteWriter = model.VoteWriter
