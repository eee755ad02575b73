package events

import "time"

// BatchFlush is emitted after the batching cache dispatches one grouped fetch.
type BatchFlush struct {
	Entity     string
	Keys       int
	Attributes []string
	Start      time.Time
	Duration   time.Duration
	Err        error
}
