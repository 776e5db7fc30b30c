package performance_test

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

func busyScenario() performance.Scenario {
	return performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		it.Sleep(ctx, time.Millisecond)
		return nil
	})
}

func TestVUPool_ScaleUpAndDown(t *testing.T) {
	env, engine := newTestEnv(t, busyScenario(), &fakeTransport{status: 200})
	pool := performance.NewVUPool(env)
	ctx := context.Background()

	if got := pool.Scale(ctx, 5); got != 5 {
		t.Fatalf("Scale(5) = %d", got)
	}
	if engine.ActiveVUs() != 5 {
		t.Errorf("vus gauge = %d, want 5", engine.ActiveVUs())
	}

	if got := pool.Scale(ctx, 2); got != 2 {
		t.Fatalf("Scale(2) = %d", got)
	}
	if engine.ActiveVUs() != 2 {
		t.Errorf("vus gauge = %d, want 2", engine.ActiveVUs())
	}
	if live := pool.Live(); live > 5 {
		t.Errorf("Live = %d, exceeds spawned VUs", live)
	}

	if !waitFor(t, time.Second, func() bool { return pool.Live() == 2 }) {
		t.Errorf("retired VUs did not exit, live = %d", pool.Live())
	}

	if got := pool.Scale(ctx, -3); got != 0 {
		t.Errorf("Scale(-3) = %d, want 0", got)
	}

	if hard := pool.Shutdown(time.Second); hard != 0 {
		t.Errorf("Shutdown hard-stopped %d VUs", hard)
	}

	stats := pool.Stats()
	if stats.Spawned != 5 {
		t.Errorf("Spawned = %d, want 5", stats.Spawned)
	}
	if stats.Active != 0 || stats.Retiring != 0 {
		t.Errorf("stats after shutdown = %+v", stats)
	}
	if stats.Iterations == 0 {
		t.Error("no iterations were run")
	}

	maxVUs, _ := engine.Summarize(metrics.VUsMax)
	if maxVUs.Value != 5 {
		t.Errorf("vus_max = %v, want 5", maxVUs.Value)
	}
}

func TestVUPool_RetiresOldestFirst(t *testing.T) {
	env, _ := newTestEnv(t, busyScenario(), &fakeTransport{status: 200})
	pool := performance.NewVUPool(env)
	defer pool.Shutdown(time.Second)

	ctx := context.Background()
	pool.Scale(ctx, 3)
	pool.Scale(ctx, 4)
	pool.Scale(ctx, 2)

	vus := pool.VUs()
	if len(vus) != 2 {
		t.Fatalf("active VUs = %d, want 2", len(vus))
	}
	if vus[0].ID != 3 || vus[1].ID != 4 {
		t.Errorf("remaining VU ids = [%d %d], want [3 4]", vus[0].ID, vus[1].ID)
	}
}

func TestVUPool_RetiredVUFinishesIteration(t *testing.T) {
	release := make(chan struct{})
	var started, finished atomic.Int64

	scenario := performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		finished.Add(1)
		return nil
	})

	env, _ := newTestEnv(t, scenario, &fakeTransport{status: 200})
	pool := performance.NewVUPool(env)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Scale(ctx, 1)

	if !waitFor(t, time.Second, func() bool { return started.Load() == 1 }) {
		t.Fatal("iteration did not start")
	}

	// retiring and cancelling the run context leave the iteration running
	pool.Scale(ctx, 0)
	cancel()

	if pool.Live() != 1 {
		t.Errorf("Live = %d while the retired VU is mid-iteration, want 1", pool.Live())
	}

	close(release)

	if hard := pool.Shutdown(time.Second); hard != 0 {
		t.Errorf("Shutdown hard-stopped %d VUs, want 0", hard)
	}
	if finished.Load() != 1 {
		t.Errorf("finished iterations = %d, want 1", finished.Load())
	}
}

func TestVUPool_ShutdownHardStop(t *testing.T) {
	var cancelled atomic.Bool
	scenario := performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	env, _ := newTestEnv(t, scenario, &fakeTransport{status: 200})
	pool := performance.NewVUPool(env)
	pool.Scale(context.Background(), 1)

	// let the worker enter its iteration
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	hard := pool.Shutdown(50 * time.Millisecond)
	if hard != 1 {
		t.Errorf("Shutdown hard-stopped %d VUs, want 1", hard)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown took %v", elapsed)
	}
	if !cancelled.Load() {
		t.Error("in-flight iteration was not cancelled")
	}
	if pool.Live() != 0 {
		t.Errorf("Live = %d after shutdown", pool.Live())
	}
}

func TestVUPool_RequestErrorsKeepWorkersAlive(t *testing.T) {
	transport := &fakeTransport{err: syscall.ECONNREFUSED}
	scenario := performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		_, err := it.Do(ctx, "refused", &performance.Request{Method: "GET", URL: "http://127.0.0.1:1/"})
		var reqErr *performance.RequestError
		if !errors.As(err, &reqErr) {
			t.Errorf("Do error = %v, want *RequestError", err)
		}
		it.Sleep(ctx, time.Millisecond)
		return nil
	})

	env, engine := newTestEnv(t, scenario, transport)
	refused, err := engine.RegisterSubmetric("http_reqs{error_code:1212}")
	if err != nil {
		t.Fatalf("RegisterSubmetric: %v", err)
	}

	pool := performance.NewVUPool(env)
	pool.Scale(context.Background(), 2)

	if !waitFor(t, time.Second, func() bool { return transport.calls.Load() >= 10 }) {
		t.Fatalf("only %d requests sent", transport.calls.Load())
	}
	if pool.Active() != 2 {
		t.Errorf("Active = %d after request errors, want 2", pool.Active())
	}

	pool.Shutdown(time.Second)

	stats := pool.Stats()
	if stats.FailedIterations != 0 {
		t.Errorf("FailedIterations = %d, want 0", stats.FailedIterations)
	}

	failed, _ := engine.Summarize(metrics.HTTPReqFailed)
	if failed.Rate() != 1 {
		t.Errorf("http_req_failed rate = %v, want 1", failed.Rate())
	}
	if sum, _ := engine.Summarize(refused); sum.Sum < 10 {
		t.Errorf("http_reqs{error_code:1212} = %v, want >= 10", sum.Sum)
	}
}

func TestVUPool_ThinkTimeInterruptedByStop(t *testing.T) {
	env, _ := newTestEnv(t, performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		return nil
	}), &fakeTransport{status: 200})
	env.ThinkTime = performance.ThinkTime{Type: performance.ThinkTimeConstant, Duration: time.Hour}

	pool := performance.NewVUPool(env)
	pool.Scale(context.Background(), 3)

	if !waitFor(t, time.Second, func() bool { return pool.Stats().Iterations == 3 }) {
		t.Fatalf("iterations = %d, want 3", pool.Stats().Iterations)
	}

	if hard := pool.Shutdown(time.Second); hard != 0 {
		t.Errorf("Shutdown hard-stopped %d VUs sleeping in think time", hard)
	}
}

func TestVUPool_RunCancelPassesThroughStopping(t *testing.T) {
	env, engine := newTestEnv(t, performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		return nil
	}), &fakeTransport{status: 200})
	env.ThinkTime = performance.ThinkTime{Type: performance.ThinkTimeConstant, Duration: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := performance.NewVUPool(env)
	pool.Scale(ctx, 1)
	if !waitFor(t, time.Second, func() bool { return pool.Stats().Iterations == 1 }) {
		t.Fatalf("iterations = %d, want 1", pool.Stats().Iterations)
	}
	vu := pool.VUs()[0]

	cancel()
	select {
	case <-vu.Done():
	case <-time.After(time.Second):
		t.Fatal("VU did not stop after the run context was cancelled")
	}

	select {
	case <-vu.Stopping():
	default:
		t.Error("VU reached Stopped without entering Stopping")
	}
	if vu.State() != performance.VUStateStopped {
		t.Errorf("State() = %v, want Stopped", vu.State())
	}
	if engine.ActiveVUs() != 0 {
		t.Errorf("ActiveVUs() = %d, want 0", engine.ActiveVUs())
	}
	if hard := pool.Shutdown(time.Second); hard != 0 {
		t.Errorf("Shutdown hard-stopped %d VUs", hard)
	}
}
