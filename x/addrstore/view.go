package addrstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// ErrBlocked reports a resource that an earlier step of the same run could
// not settle. Reads of it fail until the next run.
var ErrBlocked = errors.New("addrstore: blocked for this run")

// View is one run's window onto a Store. A staging view keeps every write
// in memory so the underlying store is never modified. Blocked keys read as
// errors carrying the cause they were blocked with.
type View struct {
	base   Store
	staged *MemoryStore

	mu      sync.RWMutex
	blocked map[resource.Key]error
}

// NewView wraps base. With staging set, Put only reaches the in-memory layer.
func NewView(base Store, staging bool) *View {
	v := &View{base: base, blocked: make(map[resource.Key]error)}
	if staging {
		v.staged = NewMemoryStore()
	}
	return v
}

// Staging reports whether writes are kept in memory.
func (v *View) Staging() bool { return v.staged != nil }

// Block makes later reads of key fail with cause.
func (v *View) Block(key resource.Key, cause error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.blocked[key]; !ok {
		v.blocked[key] = cause
	}
}

// Blocked returns the cause key was blocked with, or nil.
func (v *View) Blocked(key resource.Key) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.blocked[key]
}

func (v *View) Get(ctx context.Context, key resource.Key) (resource.Record, bool, error) {
	if cause := v.Blocked(key); cause != nil {
		return resource.Record{}, false, fmt.Errorf("%w: %s: %w", ErrBlocked, key, cause)
	}
	if v.staged != nil {
		if rec, ok, _ := v.staged.Get(ctx, key); ok {
			return rec, true, nil
		}
	}
	return v.base.Get(ctx, key)
}

func (v *View) Put(ctx context.Context, rec resource.Record) error {
	if v.staged == nil {
		return v.base.Put(ctx, rec)
	}
	if err := validateRecord(&rec); err != nil {
		return err
	}
	existing, found, err := v.base.Get(ctx, rec.Key)
	if err != nil {
		return err
	}
	write, err := admit(existing, found, rec)
	if err != nil || !write {
		return err
	}
	return v.staged.Put(ctx, rec)
}

// Records lists the underlying records followed by staged ones not yet in
// the underlying store, sorted by key.
func (v *View) Records(ctx context.Context) ([]resource.Record, error) {
	recs, err := v.base.Records(ctx)
	if err != nil {
		return nil, err
	}
	if v.staged == nil {
		return recs, nil
	}
	seen := make(map[resource.Key]bool, len(recs))
	for _, rec := range recs {
		seen[rec.Key] = true
	}
	staged, _ := v.staged.Records(ctx)
	for _, rec := range staged {
		if !seen[rec.Key] {
			recs = append(recs, rec)
		}
	}
	sortRecords(recs)
	return recs, nil
}

// Close is a no-op; the underlying store belongs to the caller.
func (v *View) Close() error { return nil }
