package service

import (
	"sync/atomic"

	"github.com/ehrlich-b/corosrv/lockfree"
)

// closer is the minimal shape a registered descriptor exposes; matches
// descriptor.BasicDescriptor's Close method.
type closer interface {
	Close() error
}

// registryEntry is what actually lives in the registry queue. removed is
// the Go stand-in for the original's weak-pointer-expired check: Go has
// no weak pointers prior to 1.24 (this module targets 1.22, matching the
// teacher's go.mod), so liveness is tracked with an explicit flag instead.
type registryEntry struct {
	desc    closer
	removed atomic.Bool
}

// registry tracks every open descriptor so Stop can close them all. It is
// a lock-free queue rather than a map: Register/Unregister never block,
// and Unregister only flips a flag — the entry is physically dropped the
// next time Sweep passes over it, exactly mirroring the original's "every
// Kth unregister sets a needs-sweep flag" amortized cleanup.
type registry struct {
	queue      *lockfree.Queue[*registryEntry]
	count      atomic.Int64
	unregisters atomic.Uint32
	needsSweep atomic.Bool
	sweepEvery uint32
}

func newRegistry(deleterSlots int, sweepEvery uint32) *registry {
	return &registry{
		queue:      lockfree.NewQueue[*registryEntry](deleterSlots),
		sweepEvery: sweepEvery,
	}
}

func (r *registry) register(c closer) *registryEntry {
	e := &registryEntry{desc: c}
	r.queue.Enqueue(e)
	r.count.Add(1)
	return e
}

func (r *registry) unregister(e *registryEntry) {
	if !e.removed.CompareAndSwap(false, true) {
		return
	}
	if r.unregisters.Add(1)%r.sweepEvery == 0 {
		r.needsSweep.Store(true)
	}
}

// sweepIfNeeded walks the registry once, dropping removed entries, but
// only if a prior unregister flipped the flag. Safe to call from any
// single maintenance point (the reactor/dispatch loop).
func (r *registry) sweepIfNeeded() {
	if r.needsSweep.CompareAndSwap(true, false) {
		r.sweep()
	}
}

func (r *registry) sweep() {
	n := r.count.Load()
	for i := int64(0); i < n; i++ {
		e, ok := r.queue.Dequeue()
		if !ok {
			return
		}
		if e.removed.Load() {
			r.count.Add(-1)
			continue
		}
		r.queue.Enqueue(e)
	}
}

// closeAll closes every live descriptor and empties the registry. Used by
// Stop, which the original spec calls "sweep-forced" — every entry, live
// or not, is gone afterward.
func (r *registry) closeAll() {
	for {
		e, ok := r.queue.Dequeue()
		if !ok {
			return
		}
		r.count.Add(-1)
		if e.removed.CompareAndSwap(false, true) {
			_ = e.desc.Close()
		}
	}
}
