package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// VUPool manages the dynamic set of VUs of one scenario.
//
// Scale spawns or retires workers to match a target. Retired workers finish
// their in-flight iteration before they exit: iterations run on a context
// detached from the run context, which is only cancelled by HardStop.
type VUPool struct {
	env    *Environment
	logger *zap.Logger

	mu       sync.Mutex
	active   []*VirtualUser // spawn order, oldest first
	retiring map[int]*VirtualUser

	nextID atomic.Int64
	wg     sync.WaitGroup

	hardCtx    context.Context
	hardCancel context.CancelFunc

	iterations       atomic.Int64
	failedIterations atomic.Int64
}

// PoolStats contains pool counters.
type PoolStats struct {
	Active           int   `json:"active"`
	Retiring         int   `json:"retiring"`
	Spawned          int64 `json:"spawned"`
	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`
}

// NewVUPool creates an empty pool.
func NewVUPool(env *Environment) *VUPool {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}

	hardCtx, hardCancel := context.WithCancel(context.Background())
	return &VUPool{
		env:        env,
		logger:     env.Logger,
		retiring:   make(map[int]*VirtualUser),
		hardCtx:    hardCtx,
		hardCancel: hardCancel,
	}
}

// Scale adjusts the number of active VUs to target.
//
// New VUs loop until ctx is done or they are retired. Surplus VUs are
// retired oldest first. It returns the active count, which always equals
// target when Scale returns.
func (p *VUPool) Scale(ctx context.Context, target int) int {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := len(p.active)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			vu := NewVirtualUser(int(p.nextID.Add(1)), p.env)
			p.active = append(p.active, vu)
			p.env.Metrics.AddActiveVUs(1)

			p.wg.Add(1)
			go p.run(ctx, vu)
		}
		p.logger.Debug("spawned VUs",
			zap.String("scenario", p.env.Name),
			zap.Int("count", target-current),
			zap.Int("active", target),
		)

	case target < current:
		surplus := current - target
		for _, vu := range p.active[:surplus] {
			if vu.RequestStop() {
				p.retiring[vu.ID] = vu
			}
			p.env.Metrics.AddActiveVUs(-1)
		}
		p.active = append([]*VirtualUser(nil), p.active[surplus:]...)
		p.logger.Debug("retiring VUs",
			zap.String("scenario", p.env.Name),
			zap.Int("count", surplus),
			zap.Int("active", target),
		)
	}

	return len(p.active)
}

// run is the worker loop of one VU.
func (p *VUPool) run(ctx context.Context, vu *VirtualUser) {
	defer p.wg.Done()
	defer p.retire(vu)

	iterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopHard := context.AfterFunc(p.hardCtx, cancel)
	defer stopHard()

	if !vu.markRunning() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-vu.Stopping():
			return
		default:
		}

		err := vu.RunIteration(iterCtx)
		p.iterations.Add(1)
		if err != nil {
			p.failedIterations.Add(1)
			p.logger.Debug("iteration failed",
				zap.String("scenario", p.env.Name),
				zap.Int("vu", vu.ID),
				zap.Error(err),
			)
		}

		if wait := p.env.ThinkTime.Next(); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-vu.Stopping():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// retire removes an exited VU from the pool.
func (p *VUPool) retire(vu *VirtualUser) {
	p.mu.Lock()
	if _, ok := p.retiring[vu.ID]; ok {
		delete(p.retiring, vu.ID)
	} else {
		for i, a := range p.active {
			if a == vu {
				p.active = append(p.active[:i:i], p.active[i+1:]...)
				p.env.Metrics.AddActiveVUs(-1)
				break
			}
		}
	}
	p.mu.Unlock()

	// A worker leaving on run cancellation never saw RequestStop.
	vu.RequestStop()
	vu.markStopped()
}

// Active returns the number of VUs that have not been retired.
func (p *VUPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Live returns the number of worker goroutines still running, including
// retired VUs finishing their last iteration.
func (p *VUPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active) + len(p.retiring)
}

// VUs returns the active VUs, oldest first.
func (p *VUPool) VUs() []*VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*VirtualUser(nil), p.active...)
}

// Stats returns pool counters.
func (p *VUPool) Stats() PoolStats {
	p.mu.Lock()
	active, retiring := len(p.active), len(p.retiring)
	p.mu.Unlock()

	return PoolStats{
		Active:           active,
		Retiring:         retiring,
		Spawned:          p.nextID.Load(),
		Iterations:       p.iterations.Load(),
		FailedIterations: p.failedIterations.Load(),
	}
}

// HardStop cancels every in-flight iteration.
func (p *VUPool) HardStop() {
	p.hardCancel()
}

// Shutdown retires every VU and waits up to gracefulStop for in-flight
// iterations to finish. Iterations still running after that are cancelled.
// It returns the number of VUs that had to be hard-stopped. The pool cannot
// be scaled again afterwards.
func (p *VUPool) Shutdown(gracefulStop time.Duration) int {
	p.mu.Lock()
	for _, vu := range p.active {
		if vu.RequestStop() {
			p.retiring[vu.ID] = vu
		}
		p.env.Metrics.AddActiveVUs(-1)
	}
	p.active = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(gracefulStop)
	defer timer.Stop()

	select {
	case <-done:
		p.hardCancel()
		return 0
	case <-timer.C:
	}

	remaining := p.Live()
	p.logger.Warn("graceful stop timed out, cancelling iterations",
		zap.String("scenario", p.env.Name),
		zap.Duration("gracefulStop", gracefulStop),
		zap.Int("vus", remaining),
	)
	p.hardCancel()
	<-done
	return remaining
}
