package engine

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-dispatch/internal/confirm"
	"github.com/rovshanmuradov/solana-dispatch/internal/types"
)

// Result is the record of one broadcast dispatch.
type Result struct {
	Signature solana.Signature
	// BundleID is set for relayed bundles.
	BundleID string
	Mode     types.DispatchMode
	Verdict  confirm.Verdict
	SentAt   time.Time
	// Strict disables the optimistic mapping of exhausted verification.
	Strict bool
}

// Accepted reports whether the dispatch should be treated as landed.
func (r Result) Accepted() bool {
	if r.Strict {
		return r.Verdict.Confirmed()
	}
	return r.Verdict.Accepted()
}

// Done reports whether verification has finished.
func (r Result) Done() bool {
	return r.Verdict.State != confirm.Pending
}

// DefaultResultRetention is how long a settled result stays queryable.
const DefaultResultRetention = 10 * time.Minute

type entry struct {
	result    Result
	stream    *StatusStream
	settledAt time.Time
}

// registry indexes results by signature. Only the verification goroutine of
// a signature settles its verdict. Settled entries older than retention are
// dropped on the next add; pending ones are never dropped.
type registry struct {
	mu        sync.RWMutex
	entries   map[solana.Signature]*entry
	retention time.Duration
	now       func() time.Time
}

func newRegistry(retention time.Duration) *registry {
	if retention <= 0 {
		retention = DefaultResultRetention
	}
	return &registry{
		entries:   make(map[solana.Signature]*entry),
		retention: retention,
		now:       time.Now,
	}
}

func (r *registry) add(result Result, stream *StatusStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	r.entries[result.Signature] = &entry{result: result, stream: stream}
}

func (r *registry) settle(sig solana.Signature, verdict confirm.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sig]; ok {
		e.result.Verdict = verdict
		e.settledAt = r.now()
	}
}

// prune must be called with mu held.
func (r *registry) prune() {
	cutoff := r.now().Add(-r.retention)
	for sig, e := range r.entries {
		if !e.settledAt.IsZero() && e.settledAt.Before(cutoff) {
			delete(r.entries, sig)
		}
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *registry) get(sig solana.Signature) (Result, *StatusStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sig]
	if !ok {
		return Result{}, nil, false
	}
	return e.result, e.stream, true
}
