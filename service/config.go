package service

import (
	"time"

	corosrv "github.com/ehrlich-b/corosrv"
	"github.com/ehrlich-b/corosrv/internal/constants"
	"github.com/ehrlich-b/corosrv/internal/interfaces"
	"github.com/ehrlich-b/corosrv/internal/logging"
)

// Config tunes a Service. New replaces every zero-valued field with the
// stock default, so the zero Config is usable; DefaultConfig returns those
// defaults explicitly, mirroring the teacher's
// DeviceParams/DefaultDeviceParams pattern.
type Config struct {
	// ReactorMaxEvents bounds how many readiness events a single reactor
	// Wait call returns.
	ReactorMaxEvents int
	// ReactorWaitTimeout bounds how long a worker blocks in each reactor
	// Wait call, so it periodically re-checks the stop flag even when
	// otherwise idle.
	ReactorWaitTimeout time.Duration
	// ReadyQueueDrainBatch caps how many ready coroutines a worker drains
	// before re-polling the reactor, so one busy worker can't starve
	// readiness checking indefinitely.
	ReadyQueueDrainBatch int
	// DeleterSlots sizes the epoch-reclamation slot table backing the
	// ready queue and descriptor registry.
	DeleterSlots int
	// DescriptorSweepEvery flips the registry's "needs sweep" flag once
	// every this-many Unregister calls.
	DescriptorSweepEvery uint32

	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// DefaultConfig returns a Config with the runtime's stock tuning.
func DefaultConfig() Config {
	return Config{
		ReactorMaxEvents:     constants.DefaultReactorMaxEvents,
		ReactorWaitTimeout:   constants.DefaultReactorWaitTimeout,
		ReadyQueueDrainBatch: constants.DefaultReadyQueueDrainBatch,
		DeleterSlots:         constants.DefaultDeleterSlots,
		DescriptorSweepEvery: 8,
		Logger:               logging.Default(),
		Observer:             nil,
	}
}

func (c Config) withDefaults() Config {
	if c.ReactorMaxEvents <= 0 {
		c.ReactorMaxEvents = constants.DefaultReactorMaxEvents
	}
	if c.ReactorWaitTimeout <= 0 {
		c.ReactorWaitTimeout = constants.DefaultReactorWaitTimeout
	}
	if c.ReadyQueueDrainBatch <= 0 {
		c.ReadyQueueDrainBatch = constants.DefaultReadyQueueDrainBatch
	}
	if c.DeleterSlots <= 0 {
		c.DeleterSlots = constants.DefaultDeleterSlots
	}
	if c.DescriptorSweepEvery == 0 {
		c.DescriptorSweepEvery = 8
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.Observer == nil {
		c.Observer = corosrv.NoOpObserver{}
	}
	return c
}
