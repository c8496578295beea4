package corosrv

import "github.com/ehrlich-b/corosrv/internal/constants"

// Re-exported tuning defaults, kept in internal/constants so every
// subsystem pulls from one place.
const (
	DefaultDeleterSlots         = constants.DefaultDeleterSlots
	DefaultClearEvery           = constants.DefaultClearEvery
	DefaultReadyQueueDrainBatch = constants.DefaultReadyQueueDrainBatch
	DefaultReactorMaxEvents     = constants.DefaultReactorMaxEvents
	DefaultIOBufferSize         = constants.DefaultIOBufferSize
	DefaultReactorWaitTimeout   = constants.DefaultReactorWaitTimeout
	DefaultStopPollInterval     = constants.DefaultStopPollInterval
)
