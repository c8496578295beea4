package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsAtLeastRequestedSize(t *testing.T) {
	for _, size := range []int{1, size4k, size4k + 1, size64k, size256k, size256k + 1} {
		buf := Get(size)
		assert.Len(t, buf, size)
		Put(buf)
	}
}

func TestPutGetRoundTripReusesCapacity(t *testing.T) {
	buf := Get(size16k)
	cap0 := cap(buf)
	Put(buf)
	buf2 := Get(size16k)
	assert.Equal(t, cap0, cap(buf2))
}

func TestOversizedFallsBackToPlainAlloc(t *testing.T) {
	buf := Get(size256k + 1)
	assert.Len(t, buf, size256k+1)
	Put(buf) // must not panic even though it can't be pooled
}
