package core

import "sync/atomic"

// TokenAllocator hands out monotonically increasing 32-bit tokens for
// correlating requests with their eventual server or peer reply
// (spec.md §4.C). Wrap-around at 2^31 is acceptable: by the time the
// counter wraps, any token still outstanding has long since timed out.
type TokenAllocator struct {
	next atomic.Int32
}

func NewTokenAllocator() *TokenAllocator {
	return &TokenAllocator{}
}

func (a *TokenAllocator) Next() int32 {
	return a.next.Add(1)
}
