package syncx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/corosrv/service"
)

func newTestService(t *testing.T) (*service.Service, *sync.WaitGroup) {
	t.Helper()
	svc, err := service.New(service.DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			_ = svc.Run()
		}()
	}
	return svc, &wg
}
