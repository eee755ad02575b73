// Package reqid assigns each incoming request a random identifier.
package reqid

import (
	"context"
	"math/rand/v2"
	"strconv"
)

type key struct{}

// NewContext returns a copy of parent carrying a fresh request ID, and the ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int64()
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(key{}).(int64)
	return id, ok
}

// String formats id the way it appears in logs and response headers.
func String(id int64) string { return strconv.FormatInt(id, 36) }
