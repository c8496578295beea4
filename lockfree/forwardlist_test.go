package lockfree

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardListPushRelease(t *testing.T) {
	var l ForwardList[int]
	l.Push(1)
	l.Push(2)
	l.Push(3)

	view := l.Release()
	var got []int
	for {
		v, ok := view.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	// Push prepends, so Release should hand back LIFO order.
	assert.Equal(t, []int{3, 2, 1}, got)
}

func TestForwardListReleaseEmptiesList(t *testing.T) {
	var l ForwardList[int]
	l.Push(1)
	l.Release()
	view2 := l.Release()
	assert.True(t, view2.Empty())
}

func TestForwardListTryPushOnlyWhenEmpty(t *testing.T) {
	var l ForwardList[int]
	assert.True(t, l.TryPush(1))
	assert.False(t, l.TryPush(2))
}

func TestForwardListPushBackPreservesOrderAndPrepends(t *testing.T) {
	var l ForwardList[int]
	l.Push(1) // list: [1]

	drained := l.Release() // view: [1]
	_, _ = drained.Pop()   // drained is now empty, but still a valid View

	var kept ForwardList[int]
	kept.Push(10)
	kept.Push(20) // view-able as [20, 10]
	view := kept.Release()

	l.Push(2) // list: [2]
	l.PushBack(view)

	got := l.Release()
	var all []int
	for {
		v, ok := got.Pop()
		if !ok {
			break
		}
		all = append(all, v)
	}
	assert.Equal(t, []int{20, 10, 2}, all)
}

func TestForwardListRemoveIfSplitsAndPreservesOrder(t *testing.T) {
	var l ForwardList[int]
	l.Push(1)
	l.Push(2)
	l.Push(3)
	l.Push(4) // view: [4, 3, 2, 1]

	view := l.Release()
	removed := view.RemoveIf(func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{4, 2}, removed)

	var kept []int
	for {
		v, ok := view.Pop()
		if !ok {
			break
		}
		kept = append(kept, v)
	}
	assert.Equal(t, []int{3, 1}, kept)
}

func TestForwardListRemoveIfNoneMatchKeepsEverything(t *testing.T) {
	var l ForwardList[int]
	l.Push(1)
	l.Push(2)
	view := l.Release()

	removed := view.RemoveIf(func(v int) bool { return false })
	assert.Empty(t, removed)
	assert.False(t, view.Empty())
}

func TestForwardListConcurrentPushNoLostUpdates(t *testing.T) {
	var l ForwardList[int]
	const n = 2000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.Push(1)
		}()
	}
	wg.Wait()

	view := l.Release()
	count := 0
	for {
		_, ok := view.Pop()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, n, count)
}
