package events

import "time"

// HTTPStart is published when the server accepts a request, before the
// body is read.
type HTTPStart struct {
	Method    string
	Path      string
	RequestID string
}

// HTTPFinish is published once the response is written. Operations counts
// the GraphQL operations the request carried and stays zero for requests
// rejected before execution.
type HTTPFinish struct {
	Method     string
	Path       string
	RequestID  string
	Status     int
	Operations int
	Duration   time.Duration
}
