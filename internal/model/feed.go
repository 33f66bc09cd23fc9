package model

// FeedEnvelope carries one raw catalog feed line with source metadata.
// It is the transport contract between feed inputs and catalog ingestion.
type FeedEnvelope struct {
	Source string
	Line   string
}
