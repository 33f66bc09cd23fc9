// Package ingest parses catalog feed lines and routes them to storage.
package ingest

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pairvote/pairvote/internal/model"
)

// ProcessorNameJSONL is the single processor implementation name.
const ProcessorNameJSONL = "jsonl"

// Processor handles feed line parsing and routing to storage.
type Processor struct {
	sink       RecordSink
	sourceName string

	// JSON accumulation for multi-line JSON support
	jsonBuffer   strings.Builder
	jsonDepth    int
	inJsonObject bool

	// Result from processCompleteJSON, consumed by ProcessLine
	lastResult *ProcessResult

	// malformed lines, counted for throttled logging
	malformed  atomic.Int64
	lastBadLog atomic.Int64
}

// NewProcessor creates a new catalog feed processor.
func NewProcessor(sink RecordSink, sourceName string) *Processor {
	return &Processor{
		sink:       sink,
		sourceName: sourceName,
	}
}

// ProcessResult holds the result of processing a feed line.
type ProcessResult struct {
	Record *model.NFT
}

// Name returns the processor implementation name.
func (p *Processor) Name() string { return ProcessorNameJSONL }

// ProcessEnvelope processes one source-tagged feed line.
func (p *Processor) ProcessEnvelope(env model.FeedEnvelope) *ProcessResult {
	return p.ProcessLine(env.Line)
}

// ProcessLine processes a single feed line, returning the parsed record.
// Returns nil if the line is being accumulated as part of a multi-line JSON object.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	// Handle multi-line JSON accumulation
	if p.tryAccumulateJSON(line) {
		// If accumulation completed a JSON object, return its result
		if p.lastResult != nil {
			result := p.lastResult
			p.lastResult = nil
			return result
		}
		return nil
	}

	return p.processEntry(line)
}

// processEntry parses a line and stores the resulting record.
func (p *Processor) processEntry(line string) *ProcessResult {
	record := ParseFeedLine(line)
	if record == nil {
		p.logMalformed(line)
		return nil
	}

	if p.sink != nil {
		p.sink.Add(record)
	}

	return &ProcessResult{Record: record}
}

// logMalformed emits a throttled warning (at most once per 10 seconds).
func (p *Processor) logMalformed(line string) {
	count := p.malformed.Add(1)
	now := time.Now().Unix()
	last := p.lastBadLog.Load()
	if now-last >= 10 && p.lastBadLog.CompareAndSwap(last, now) {
		log.Printf("ingest: %d malformed feed lines dropped (source=%s, latest=%.80s)", count, p.sourceName, line)
	}
}

// MalformedCount returns the number of feed lines dropped as unparseable.
func (p *Processor) MalformedCount() int64 {
	return p.malformed.Load()
}

// tryAccumulateJSON attempts to accumulate multi-line JSON and process when complete.
// Returns true if the line was consumed (either accumulated or completed).
func (p *Processor) tryAccumulateJSON(line string) bool {
	trimmed := strings.TrimSpace(line)

	if !p.inJsonObject {
		if strings.HasPrefix(trimmed, "{") {
			p.inJsonObject = true
			p.jsonBuffer.Reset()
			p.jsonDepth = 0
			p.jsonBuffer.WriteString(line)
			p.jsonBuffer.WriteString("\n")

			p.jsonDepth += CountJSONDepth(line)

			if p.jsonDepth <= 0 {
				completeJSON := strings.TrimSpace(p.jsonBuffer.String())
				p.resetJSONAccumulation()
				p.processCompleteJSON(completeJSON)
				return true
			}

			return true
		}
		return false
	}

	p.jsonBuffer.WriteString(line)
	p.jsonBuffer.WriteString("\n")
	p.jsonDepth += CountJSONDepth(line)

	if p.jsonDepth <= 0 {
		completeJSON := strings.TrimSpace(p.jsonBuffer.String())
		p.resetJSONAccumulation()
		p.processCompleteJSON(completeJSON)
		return true
	}

	return true
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

// resetJSONAccumulation resets the JSON accumulation state.
func (p *Processor) resetJSONAccumulation() {
	p.inJsonObject = false
	p.jsonDepth = 0
	p.jsonBuffer.Reset()
}

// processCompleteJSON processes a complete JSON object (single or multi-line).
func (p *Processor) processCompleteJSON(jsonStr string) {
	// This goes through the same path as a single line
	p.lastResult = p.processEntry(jsonStr)
}

// SetSourceName updates the source name used for feed records.
func (p *Processor) SetSourceName(name string) {
	p.sourceName = name
}
