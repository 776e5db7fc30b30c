package performance_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/google/uuid"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// recordingTransport keeps every request it is given.
type recordingTransport struct {
	fakeTransport

	mu   sync.Mutex
	reqs []*performance.Request
}

func (r *recordingTransport) Send(ctx context.Context, req *performance.Request) (*performance.Response, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return r.fakeTransport.Send(ctx, req)
}

func TestRequestScenario_Run(t *testing.T) {
	sc := &config.ScenarioConfig{
		Requests: []config.RequestConfig{
			{
				Name:    "create",
				Method:  "post",
				URL:     "{{baseUrl}}/users/{{vu}}",
				Headers: map[string]string{"X-Trace": "{{uuid}}"},
				Body:    `{"tenant":"{{tenant}}","iter":{{iter}}}`,
				Checks: []config.CheckConfig{
					{Name: "created", Type: "status", Condition: "eq", Value: "201"},
					{Name: "has id", Type: "jsonpath", Path: "$.id", Condition: "exists"},
				},
			},
		},
	}

	scenario, err := performance.NewRequestScenario(sc)
	if err != nil {
		t.Fatalf("NewRequestScenario: %v", err)
	}

	transport := &recordingTransport{fakeTransport: fakeTransport{status: 201, body: `{"id": 1}`}}
	env, engine := newTestEnv(t, scenario, transport)
	env.BaseURL = "http://api.test"
	env.Variables = map[string]string{"tenant": "acme"}
	env.UserAgent = "stampede/1.0"
	env.Headers = map[string]string{"Accept": "application/json"}

	vu := performance.NewVirtualUser(3, env)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration: %v", err)
	}

	if len(transport.reqs) != 1 {
		t.Fatalf("sent %d requests, want 1", len(transport.reqs))
	}
	req := transport.reqs[0]

	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if req.URL != "http://api.test/users/3" {
		t.Errorf("url = %s", req.URL)
	}
	if string(req.Body) != `{"tenant":"acme","iter":1}` {
		t.Errorf("body = %s", req.Body)
	}
	if _, err := uuid.Parse(req.Header.Get("X-Trace")); err != nil {
		t.Errorf("X-Trace = %q is not a uuid", req.Header.Get("X-Trace"))
	}
	if req.Header.Get("User-Agent") != "stampede/1.0" {
		t.Errorf("User-Agent = %q", req.Header.Get("User-Agent"))
	}
	if req.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", req.Header.Get("Accept"))
	}

	checks := engine.CheckSummaries()
	if len(checks) != 2 {
		t.Fatalf("check summaries = %d, want 2", len(checks))
	}
	for _, c := range checks {
		if c.Passes != 1 || c.Fails != 0 {
			t.Errorf("check %q: passes=%d fails=%d", c.Name, c.Passes, c.Fails)
		}
	}

	reqs, _ := engine.Summarize(metrics.HTTPReqs)
	if reqs.Sum != 1 {
		t.Errorf("http_reqs = %v, want 1", reqs.Sum)
	}
	failed, _ := engine.Summarize(metrics.HTTPReqFailed)
	if failed.Passes != 0 {
		t.Errorf("http_req_failed passes = %d, want 0", failed.Passes)
	}
}

func TestRequestScenario_FailedRequestFailsChecks(t *testing.T) {
	sc := &config.ScenarioConfig{
		Requests: []config.RequestConfig{
			{Name: "first", URL: "http://down.test/", Checks: []config.CheckConfig{{Name: "ok", Type: "status", Value: "200"}}},
			{Name: "second", URL: "http://down.test/again"},
		},
	}

	scenario, err := performance.NewRequestScenario(sc)
	if err != nil {
		t.Fatalf("NewRequestScenario: %v", err)
	}

	transport := &recordingTransport{fakeTransport: fakeTransport{err: syscall.ECONNREFUSED}}
	env, engine := newTestEnv(t, scenario, transport)

	vu := performance.NewVirtualUser(1, env)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("request errors must not fail the iteration: %v", err)
	}

	if len(transport.reqs) != 2 {
		t.Errorf("sent %d requests, want 2", len(transport.reqs))
	}

	checks := engine.CheckSummaries()
	if len(checks) != 1 || checks[0].Fails != 1 {
		t.Fatalf("check summaries = %+v", checks)
	}
	if checks[0].FirstFailure == nil || checks[0].FirstFailure.VUID != 1 {
		t.Errorf("first failure = %+v", checks[0].FirstFailure)
	}

	failed, _ := engine.Summarize(metrics.HTTPReqFailed)
	if failed.Rate() != 1 {
		t.Errorf("http_req_failed rate = %v, want 1", failed.Rate())
	}
}

// emptyTransport returns neither a response nor an error.
type emptyTransport struct{}

func (emptyTransport) Send(context.Context, *performance.Request) (*performance.Response, error) {
	return nil, nil
}

func TestIteration_DoWithoutResponse(t *testing.T) {
	var doErr error
	scenario := performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		_, doErr = it.Do(ctx, "empty", &performance.Request{Method: http.MethodGet, URL: "http://empty.test/"})
		return nil
	})
	env, engine := newTestEnv(t, scenario, emptyTransport{})

	vu := performance.NewVirtualUser(1, env)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration: %v", err)
	}

	var reqErr *performance.RequestError
	if !errors.As(doErr, &reqErr) {
		t.Fatalf("Do error = %v, want *RequestError", doErr)
	}
	if reqErr.Kind != performance.ErrorOther || !errors.Is(doErr, performance.ErrNoResponse) {
		t.Errorf("Do error = %v, want other/ErrNoResponse", doErr)
	}

	failed, _ := engine.Summarize(metrics.HTTPReqFailed)
	if failed.Count != 1 || failed.Rate() != 1 {
		t.Errorf("http_req_failed count/rate = %d/%v, want 1/1", failed.Count, failed.Rate())
	}
}

func TestNewRequestScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		sc   *config.ScenarioConfig
	}{
		{"no requests", &config.ScenarioConfig{}},
		{"bad timeout", &config.ScenarioConfig{Requests: []config.RequestConfig{{URL: "http://x", Timeout: "soon"}}}},
		{"bad check", &config.ScenarioConfig{Requests: []config.RequestConfig{{URL: "http://x", Checks: []config.CheckConfig{{Type: "nope"}}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := performance.NewRequestScenario(tt.sc)
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestIteration_ResolveFreshUUIDs(t *testing.T) {
	var resolved string
	env, _ := newTestEnv(t, performance.ScenarioFunc(func(ctx context.Context, it *performance.Iteration) error {
		resolved = it.Resolve("{{uuid}}/{{uuid}}/{{missing}}")
		return nil
	}), &fakeTransport{status: 200})

	vu := performance.NewVirtualUser(1, env)
	if err := vu.RunIteration(context.Background()); err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(resolved, "/")
	if len(parts) != 3 {
		t.Fatalf("resolved = %q", resolved)
	}
	if parts[0] == parts[1] {
		t.Error("{{uuid}} resolved to the same value twice")
	}
	if parts[2] != "{{missing}}" {
		t.Errorf("unknown variable resolved to %q, want it left in place", parts[2])
	}
}

func TestParseThinkTime(t *testing.T) {
	tt, err := performance.ParseThinkTime(&config.ThinkTimeConfig{Type: "random", Min: "10ms", Max: "20ms"})
	if err != nil {
		t.Fatalf("ParseThinkTime: %v", err)
	}
	for i := 0; i < 100; i++ {
		d := tt.Next()
		if d < tt.Min || d >= tt.Max {
			t.Fatalf("Next() = %v outside [%v, %v)", d, tt.Min, tt.Max)
		}
	}

	none, err := performance.ParseThinkTime(nil)
	if err != nil || none.Next() != 0 {
		t.Errorf("nil think time = %v, %v", none.Next(), err)
	}

	if _, err := performance.ParseThinkTime(&config.ThinkTimeConfig{Type: "gaussian"}); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("unknown type error = %v, want ErrInvalidConfig", err)
	}
}
