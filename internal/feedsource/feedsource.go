// Package feedsource unifies catalog feed inputs behind one interface.
package feedsource

import "github.com/pairvote/pairvote/internal/model"

// FeedSource is a unified interface for all catalog feed inputs (TCP, stdin).
type FeedSource interface {
	Lines() <-chan model.FeedEnvelope // read-only channel of feed lines
	Stop()                            // graceful shutdown
	Name() string                     // "tcp", "stdin"
}
