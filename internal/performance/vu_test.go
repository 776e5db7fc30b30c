package performance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state performance.VUState
		want  string
	}{
		{performance.VUStateStarting, "starting"},
		{performance.VUStateRunning, "running"},
		{performance.VUStateStopping, "stopping"},
		{performance.VUStateStopped, "stopped"},
		{performance.VUState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_StopFromStarting(t *testing.T) {
	env, _ := newTestEnv(t, performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		return nil
	}), &fakeTransport{status: 200})

	vu := performance.NewVirtualUser(1, env)
	if vu.State() != performance.VUStateStarting {
		t.Fatalf("new VU state = %v, want starting", vu.State())
	}

	if !vu.RequestStop() {
		t.Fatal("RequestStop on a starting VU returned false")
	}
	if vu.State() != performance.VUStateStopping {
		t.Errorf("state after stop = %v, want stopping", vu.State())
	}
	if vu.RequestStop() {
		t.Error("second RequestStop returned true")
	}

	select {
	case <-vu.Stopping():
	default:
		t.Error("Stopping channel not closed")
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	var seen []int64
	env, engine := newTestEnv(t, performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		seen = append(seen, it.Number())
		if it.VUID() != 7 {
			t.Errorf("VUID = %d, want 7", it.VUID())
		}
		if it.Scenario() != "test" {
			t.Errorf("Scenario = %q, want test", it.Scenario())
		}
		return nil
	}), &fakeTransport{status: 200})

	vu := performance.NewVirtualUser(7, env)
	for i := 0; i < 3; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration: %v", err)
		}
	}

	if vu.Iterations() != 3 {
		t.Errorf("Iterations = %d, want 3", vu.Iterations())
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("iteration numbers = %v, want [1 2 3]", seen)
	}

	sum, ok := engine.Summarize(metrics.Iterations)
	if !ok || sum.Sum != 3 {
		t.Errorf("iterations counter = %v, want 3", sum.Sum)
	}
}

func TestVirtualUser_PanicRecovered(t *testing.T) {
	env, engine := newTestEnv(t, performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		panic("boom")
	}), &fakeTransport{status: 200})

	vu := performance.NewVirtualUser(1, env)
	err := vu.RunIteration(context.Background())
	if !errors.Is(err, performance.ErrScenarioPanic) {
		t.Fatalf("RunIteration error = %v, want ErrScenarioPanic", err)
	}

	// the iteration is still counted
	sum, _ := engine.Summarize(metrics.Iterations)
	if sum.Sum != 1 {
		t.Errorf("iterations counter = %v, want 1", sum.Sum)
	}
}

func TestVirtualUser_WaitForStop(t *testing.T) {
	env, _ := newTestEnv(t, performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		return nil
	}), &fakeTransport{status: 200})

	pool := performance.NewVUPool(env)
	pool.Scale(context.Background(), 1)
	vu := pool.VUs()[0]

	if vu.WaitForStop(20 * time.Millisecond) {
		t.Fatal("VU stopped before being asked to")
	}

	if hard := pool.Shutdown(time.Second); hard != 0 {
		t.Errorf("Shutdown hard-stopped %d VUs, want 0", hard)
	}
	if !vu.WaitForStop(time.Second) {
		t.Fatal("VU did not stop")
	}
	if vu.State() != performance.VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.State())
	}
	if err := vu.RunIteration(context.Background()); !errors.Is(err, performance.ErrVUStopped) {
		t.Errorf("RunIteration on stopped VU = %v, want ErrVUStopped", err)
	}
}
