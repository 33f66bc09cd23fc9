package model

import "time"

// Shared defaults used by both the daemon and dashboard binaries.
const (
	DefaultStackDepth      = 3
	DefaultMaxAttempts     = 3
	DefaultAttemptTimeout  = 5 * time.Second
	DefaultTransitionDelay = 300 * time.Millisecond
	DefaultUpdateInterval  = 2 * time.Second
)
