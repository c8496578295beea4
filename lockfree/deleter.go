package lockfree

import "sync/atomic"

// Deleter defers freeing a node until no concurrent reader could still be
// dereferencing it: the epoch a node was retired at must be strictly
// older than every slot's currently-held epoch before the node is safe to
// free. Go's garbage collector already makes raw use-after-free
// impossible, but pooled resources (a buffer returned to bufpool, a file
// descriptor slot reused by a fresh connection) still need the same
// "nobody in flight still sees the old identity" guarantee, which is what
// this type is for.
//
// Grounded on original_source/Lockfree/LockFree.h's DeferredDeleter:
// EpochKeeper/EpochAcquire hand out one of a fixed number of slots via a
// round-robin CAS from zero, Delete defers the free until every slot is
// either free or newer than the retiring epoch, and Clear periodically
// walks the pending list computing the minimum held epoch.
type Deleter struct {
	epoch      atomic.Uint64
	slots      []atomic.Uint64
	pending    ForwardList[pendingItem]
	clearEvery uint32
	tick       atomic.Uint32
}

type pendingItem struct {
	epoch uint64
	free  func()
}

// NewDeleter builds a deleter with the given number of reader slots and a
// ClearIfNeeded amortization factor (Clear actually runs once every
// clearEvery calls).
func NewDeleter(slots int, clearEvery uint32) *Deleter {
	if slots <= 0 {
		slots = 1
	}
	if clearEvery == 0 {
		clearEvery = 1
	}
	d := &Deleter{slots: make([]atomic.Uint64, slots), clearEvery: clearEvery}
	d.epoch.Store(1)
	return d
}

// Token is a held epoch slot; Release it as soon as the reader is done
// touching anything that might be concurrently retired.
type Token struct {
	slot *atomic.Uint64
}

// Release frees the slot, making it available to the next Acquire; the
// next Clear no longer counts its epoch when deciding what to free.
func (t *Token) Release() {
	if t == nil || t.slot == nil {
		return
	}
	t.slot.Store(0)
	t.slot = nil
}

// Acquire reserves a slot stamped with the current epoch. Every traversal
// of a structure guarded by this deleter must hold a Token for its
// duration.
func (d *Deleter) Acquire() *Token {
	for {
		e := d.epoch.Load()
		for i := range d.slots {
			if d.slots[i].CompareAndSwap(0, e) {
				return &Token{slot: &d.slots[i]}
			}
		}
		// every slot busy; this only happens under slots-sized
		// concurrency, retry rather than grow dynamically.
	}
}

// Delete retires a node: free runs immediately if no slot currently holds
// an epoch at or before the retiring epoch, otherwise it is queued for a
// later Clear.
func (d *Deleter) Delete(free func()) {
	retireEpoch := d.epoch.Add(1) - 1
	if !d.anySlotAtOrBelow(retireEpoch) {
		free()
		return
	}
	d.pending.Push(pendingItem{epoch: retireEpoch, free: free})
}

func (d *Deleter) anySlotAtOrBelow(epoch uint64) bool {
	for i := range d.slots {
		if v := d.slots[i].Load(); v != 0 && v <= epoch {
			return true
		}
	}
	return false
}

// Clear walks the pending list, freeing every entry whose retirement
// epoch is older than the oldest epoch any slot currently holds, and
// re-queuing the rest.
func (d *Deleter) Clear() {
	minHeld, any := uint64(0), false
	for i := range d.slots {
		v := d.slots[i].Load()
		if v != 0 && (!any || v < minHeld) {
			minHeld, any = v, true
		}
	}

	view := d.pending.Release()
	freed := view.RemoveIf(func(item pendingItem) bool {
		return !any || item.epoch < minHeld
	})
	for _, item := range freed {
		item.free()
	}
	d.pending.PushBack(view)
}

// ClearIfNeeded calls Clear roughly once every clearEvery invocations,
// amortizing the pending-list scan over many pops instead of walking it
// on every single one.
func (d *Deleter) ClearIfNeeded() {
	if d.tick.Add(1)%d.clearEvery == 0 {
		d.Clear()
	}
}
