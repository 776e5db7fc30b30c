// Package performance runs virtual users: the worker lifecycle, the VU pool,
// the scenario runner with its checks, and the HTTP transports.
package performance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
//
// Transitions: Starting -> Running -> Stopping -> Stopped. A stop requested
// while Starting goes straight to Stopping.
type VUState int32

const (
	// VUStateStarting is the state of a freshly spawned VU.
	VUStateStarting VUState = iota
	// VUStateRunning indicates the VU is looping over iterations.
	VUStateRunning
	// VUStateStopping indicates the VU finishes its current iteration and exits.
	VUStateStopping
	// VUStateStopped is terminal.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateStarting:
		return "starting"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrVUStopped is returned by RunIteration on a VU that was asked to stop.
var ErrVUStopped = errors.New("virtual user is stopping")

// ErrScenarioPanic wraps a panic recovered from scenario code.
var ErrScenarioPanic = errors.New("scenario panicked")

// Environment is everything a VU needs to run iterations of one scenario.
// It is shared read-only by all VUs of the scenario.
type Environment struct {
	// Name of the scenario (the "scenario" tag)
	Name string

	Scenario  Scenario
	Transport Transport
	Metrics   *metrics.Engine
	Logger    *zap.Logger

	// ThinkTime is the pause after each iteration
	ThinkTime ThinkTime

	// BaseURL resolves {{baseUrl}}
	BaseURL string

	// Variables are template variables available to requests
	Variables map[string]string

	// Headers and UserAgent are applied to every request that does not set them
	Headers   map[string]string
	UserAgent string

	// Tags are added to every sample
	Tags metrics.Tags
}

// VirtualUser is a single simulated user executing iterations.
//
// VUs are created and owned by a VUPool.
type VirtualUser struct {
	// ID is unique within the pool and assigned sequentially
	ID int

	env *Environment

	state     atomic.Int32
	iteration atomic.Int64

	stopCh   chan struct{}
	doneCh   chan struct{}
	doneOnce sync.Once
}

// NewVirtualUser creates a VU in the Starting state.
func NewVirtualUser(id int, env *Environment) *VirtualUser {
	return &VirtualUser{
		ID:     id,
		env:    env,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns the number of iterations started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iteration.Load()
}

// markRunning moves Starting to Running. It fails if a stop already arrived.
func (vu *VirtualUser) markRunning() bool {
	return vu.state.CompareAndSwap(int32(VUStateStarting), int32(VUStateRunning)) ||
		vu.State() == VUStateRunning
}

// RunIteration executes one iteration of the scenario.
//
// ctx bounds the iteration itself; it is normally detached from the run
// deadline so an in-flight iteration completes. Scenario panics are
// recovered and returned as ErrScenarioPanic.
func (vu *VirtualUser) RunIteration(ctx context.Context) (err error) {
	if s := vu.State(); s == VUStateStopped {
		return ErrVUStopped
	}

	n := vu.iteration.Add(1)
	it := newIteration(vu.env, vu.ID, n)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrScenarioPanic, r)
			vu.env.Logger.Warn("recovered panic in scenario",
				zap.String("scenario", vu.env.Name),
				zap.Int("vu", vu.ID),
				zap.Int64("iteration", n),
				zap.Any("panic", r),
			)
		}
		vu.env.Metrics.RecordIteration(time.Now(), time.Since(start), metrics.Tags{"scenario": vu.env.Name})
	}()

	return vu.env.Scenario.Run(ctx, it)
}

// RequestStop asks the VU to stop after its current iteration.
// It returns false if the VU was already stopping or stopped.
func (vu *VirtualUser) RequestStop() bool {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateStarting), int32(VUStateStopping)) {
		close(vu.stopCh)
		return true
	}
	return false
}

// Stopping returns a channel closed when a stop is requested.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// Done returns a channel closed when the VU has fully stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// markStopped marks the VU as fully stopped. Called once the worker
// goroutine exits.
func (vu *VirtualUser) markStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.doneOnce.Do(func() { close(vu.doneCh) })
}
