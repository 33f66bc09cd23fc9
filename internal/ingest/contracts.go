package ingest

import "github.com/pairvote/pairvote/internal/model"

// RecordSink receives parsed catalog records for asynchronous storage.
type RecordSink interface {
	Add(record *model.NFT)
}

// EnvelopeProcessor consumes source-tagged feed lines and emits canonical records.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.FeedEnvelope) *ProcessResult
}

// NewEnvelopeProcessor creates the JSONL catalog processor implementation.
func NewEnvelopeProcessor(sink RecordSink, sourceName string) EnvelopeProcessor {
	return NewProcessor(sink, sourceName)
}
