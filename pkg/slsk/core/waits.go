// Package core implements the client's connection-level state: the wait
// registry, token allocation, connection primitives, the peer connection
// manager, the server dispatcher, and the transfer and search engines
// (spec.md §4).
package core

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/metrics"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// Waiter is a single-shot rendezvous slot. Exactly one of Complete,
// Throw, or Cancel ever succeeds against it; later calls are no-ops.
type Waiter[T any] struct {
	result chan waitResult[T]
	once   sync.Once
}

type waitResult[T any] struct {
	value T
	err   error
}

func newWaiter[T any]() *Waiter[T] {
	return &Waiter[T]{result: make(chan waitResult[T], 1)}
}

func (w *Waiter[T]) deliver(v T, err error) {
	w.once.Do(func() {
		w.result <- waitResult[T]{value: v, err: err}
	})
}

// bucket holds the FIFO queue of pending waiters for one WaitKey. A
// single mutex per bucket keeps register/deliver/cancel operations from
// interleaving, while distinct keys never contend with each other.
type bucket struct {
	mu      sync.Mutex
	waiters *list.List // of *registeredWaiter
}

// Registry is the keyed, typed, single-shot rendezvous table every
// request/response exchange in the client waits on (spec.md §4.B). Values
// flowing through a given key must share one Go type; callers enforce
// this by always calling Wait[T]/Complete[T] with the same T for a tag.
type Registry struct {
	mu      sync.Mutex
	buckets map[types.WaitKey]*bucket

	metrics *metrics.Metrics
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[types.WaitKey]*bucket)}
}

// SetMetrics wires an optional Prometheus collector set; nil (the
// zero value) leaves every instrumentation call a no-op.
func (r *Registry) SetMetrics(mx *metrics.Metrics) {
	r.metrics = mx
}

func (r *Registry) bucketFor(key types.WaitKey) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{waiters: list.New()}
		r.buckets[key] = b
	}
	return b
}

func (r *Registry) dropBucketIfEmpty(key types.WaitKey, b *bucket) {
	b.mu.Lock()
	empty := b.waiters.Len() == 0
	b.mu.Unlock()
	if !empty {
		return
	}
	r.mu.Lock()
	if cur, ok := r.buckets[key]; ok && cur == b {
		cur.mu.Lock()
		stillEmpty := cur.waiters.Len() == 0
		cur.mu.Unlock()
		if stillEmpty {
			delete(r.buckets, key)
		}
	}
	r.mu.Unlock()
}

// Wait registers for key and blocks until Complete/Throw/Cancel targets
// this slot, ctx is cancelled, or timeout elapses. A zero timeout means
// no deadline (WaitIndefinite).
func Wait[T any](ctx context.Context, r *Registry, key types.WaitKey, timeout time.Duration) (T, error) {
	var zero T
	w := newWaiter[T]()
	b := r.bucketFor(key)

	b.mu.Lock()
	elem := b.waiters.PushBack(w)
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		b.waiters.Remove(elem)
		b.mu.Unlock()
		r.dropBucketIfEmpty(key, b)
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-w.result:
		cleanup()
		return res.value, res.err
	case <-timeoutC:
		r.metrics.WaitTimedOut(string(key.Tag))
		w.deliver(zero, types.NewError(types.Timeout, key.String()+": timed out"))
		cleanup()
		res := <-w.result
		return res.value, res.err
	case <-ctx.Done():
		w.deliver(zero, types.Wrap(types.Cancelled, ctx.Err(), key.String()+": context cancelled"))
		cleanup()
		res := <-w.result
		return res.value, res.err
	}
}

// WaitIndefinite waits with no timeout, relying solely on ctx for
// cancellation.
func WaitIndefinite[T any](ctx context.Context, r *Registry, key types.WaitKey) (T, error) {
	return Wait[T](ctx, r, key, 0)
}

// Complete delivers v to the oldest pending waiter on key, satisfying
// FIFO-per-key delivery (spec.md invariant). It is a no-op if nothing is
// waiting; most server replies racing an expired Wait fall here and are
// dropped, which is the correct behavior per spec.md's edge cases.
func Complete[T any](r *Registry, key types.WaitKey, v T) bool {
	r.mu.Lock()
	b, ok := r.buckets[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.mu.Lock()
	front := b.waiters.Front()
	if front == nil {
		b.mu.Unlock()
		return false
	}
	b.waiters.Remove(front)
	b.mu.Unlock()
	w, ok := front.Value.(*Waiter[T])
	if !ok {
		return false
	}
	w.deliver(v, nil)
	r.dropBucketIfEmpty(key, b)
	return true
}

// Throw delivers err to the oldest pending waiter on key.
func Throw[T any](r *Registry, key types.WaitKey, err error) bool {
	r.mu.Lock()
	b, ok := r.buckets[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.mu.Lock()
	front := b.waiters.Front()
	if front == nil {
		b.mu.Unlock()
		return false
	}
	b.waiters.Remove(front)
	b.mu.Unlock()
	w, ok := front.Value.(*Waiter[T])
	if !ok {
		return false
	}
	var zero T
	w.deliver(zero, err)
	r.dropBucketIfEmpty(key, b)
	return true
}

// CancelAll drains every pending waiter on key with a Cancelled error,
// used when a connection tears down and all outstanding rendezvous on
// it must unblock (spec.md §4.D/F).
func (r *Registry) CancelAll(key types.WaitKey, reason string) {
	r.mu.Lock()
	b, ok := r.buckets[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	b.mu.Lock()
	var elems []*list.Element
	for e := b.waiters.Front(); e != nil; e = e.Next() {
		elems = append(elems, e)
	}
	for _, e := range elems {
		b.waiters.Remove(e)
	}
	b.mu.Unlock()
	for _, e := range elems {
		if canceller, ok := e.Value.(interface{ cancel(string) }); ok {
			canceller.cancel(reason)
		}
	}
	r.dropBucketIfEmpty(key, b)
}

func (w *Waiter[T]) cancel(reason string) {
	var zero T
	w.deliver(zero, types.NewError(types.Cancelled, reason))
}

// CancelEverything drains every bucket in the registry, used when the
// server connection drops and every outstanding rendezvous of any tag
// must unblock rather than wait out its timeout.
func (r *Registry) CancelEverything(reason string) {
	r.mu.Lock()
	keys := make([]types.WaitKey, 0, len(r.buckets))
	for k := range r.buckets {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	for _, k := range keys {
		r.CancelAll(k, reason)
	}
}
