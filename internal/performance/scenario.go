package performance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Scenario is the code a VU runs once per iteration.
//
// Implementations send requests and evaluate checks through the Iteration,
// which records every outcome into the metrics sink. Run must be safe to
// call from many VUs at once.
type Scenario interface {
	Run(ctx context.Context, it *Iteration) error
}

// ScenarioFunc adapts a function to the Scenario interface.
type ScenarioFunc func(ctx context.Context, it *Iteration) error

// Run implements Scenario.
func (f ScenarioFunc) Run(ctx context.Context, it *Iteration) error { return f(ctx, it) }

// Iteration is the handle a Scenario uses during one iteration.
type Iteration struct {
	vuID     int
	number   int64
	scenario string
	env      *Environment
	tags     metrics.Tags
	vars     map[string]string
}

func newIteration(env *Environment, vuID int, number int64) *Iteration {
	vu := strconv.Itoa(vuID)
	iter := strconv.FormatInt(number, 10)

	tags := make(metrics.Tags, len(env.Tags)+3)
	for k, v := range env.Tags {
		tags[k] = v
	}
	tags["scenario"] = env.Name
	tags["vu"] = vu
	tags["iter"] = iter

	vars := make(map[string]string, len(env.Variables)+3)
	for k, v := range env.Variables {
		vars[k] = v
	}
	vars["vu"] = vu
	vars["iter"] = iter
	if env.BaseURL != "" {
		vars["baseUrl"] = env.BaseURL
		vars["baseURL"] = env.BaseURL
	}

	return &Iteration{
		vuID:     vuID,
		number:   number,
		scenario: env.Name,
		env:      env,
		tags:     tags,
		vars:     vars,
	}
}

// VUID returns the id of the VU running the iteration.
func (it *Iteration) VUID() int { return it.vuID }

// Number returns the VU-local iteration number, starting at 1.
func (it *Iteration) Number() int64 { return it.number }

// Scenario returns the scenario name.
func (it *Iteration) Scenario() string { return it.scenario }

// Resolve substitutes {{name}} template variables: configuration variables,
// {{baseUrl}}, {{vu}}, {{iter}} and {{uuid}} (fresh for every occurrence).
func (it *Iteration) Resolve(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	for strings.Contains(s, "{{uuid}}") {
		s = strings.Replace(s, "{{uuid}}", uuid.NewString(), 1)
	}
	return config.ResolveVariables(s, it.vars, nil)
}

// Do sends req through the transport and records http_reqs,
// http_req_duration, http_req_failed and data_received. Transport failures
// are returned as *RequestError after being recorded; they never panic.
func (it *Iteration) Do(ctx context.Context, name string, req *Request) (*Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, v := range it.env.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if it.env.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", it.env.UserAgent)
	}

	tags := make(metrics.Tags, len(it.tags)+6)
	for k, v := range it.tags {
		tags[k] = v
	}
	if name == "" {
		name = req.URL
	}
	tags["name"] = name
	tags["method"] = req.Method
	tags["url"] = req.URL

	start := time.Now()
	resp, err := it.env.Transport.Send(ctx, req)
	elapsed := time.Since(start)
	if err == nil && resp == nil {
		err = &RequestError{Kind: ErrorOther, Err: ErrNoResponse}
	}

	var reqErr *RequestError
	if err != nil {
		reqErr = ClassifyError(err)
		tags["status"] = "0"
		tags["error"] = string(reqErr.Kind)
		tags["error_code"] = strconv.Itoa(reqErr.Kind.Code())
		it.env.Logger.Debug("request failed",
			zap.String("scenario", it.scenario),
			zap.Int("vu", it.vuID),
			zap.String("name", name),
			zap.String("kind", string(reqErr.Kind)),
			zap.Error(reqErr.Err),
		)
	} else {
		tags["status"] = strconv.Itoa(resp.StatusCode)
		if resp.Duration > 0 {
			elapsed = resp.Duration
		}
	}

	var bytesRead int64
	if resp != nil {
		bytesRead = int64(len(resp.Body))
	}

	it.env.Metrics.RecordRequest(metrics.RequestMetrics{
		Time:     start,
		Duration: elapsed,
		Failed:   reqErr != nil || resp.StatusCode >= 400,
		Bytes:    bytesRead,
		Tags:     tags,
	})

	if reqErr != nil {
		return nil, reqErr
	}
	return resp, nil
}

// Check evaluates checks against resp and records one CheckResult per check.
// A failing check never stops the iteration. It reports whether all passed.
func (it *Iteration) Check(resp *Response, checks ...*Check) bool {
	all := true
	now := time.Now()
	for _, c := range checks {
		passed := c.Evaluate(resp)
		all = all && passed
		it.env.Metrics.RecordCheck(metrics.CheckResult{
			Name:      c.Name,
			Passed:    passed,
			Timestamp: now,
			VUID:      it.vuID,
			Iteration: it.number,
			Tags:      metrics.Tags{"scenario": it.scenario},
		})
	}
	return all
}

// Sleep pauses for d or until ctx is done.
func (it *Iteration) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RequestScenario is the declarative Scenario built from configuration: a
// fixed sequence of requests, each with its checks.
type RequestScenario struct {
	requests []compiledRequest
}

type compiledRequest struct {
	name      string
	method    string
	url       string
	headers   map[string]string
	body      string
	timeout   time.Duration
	thinkTime time.Duration
	checks    []*Check
}

// NewRequestScenario compiles the requests of sc. Errors wrap
// config.ErrInvalidConfig.
func NewRequestScenario(sc *config.ScenarioConfig) (*RequestScenario, error) {
	if len(sc.Requests) == 0 {
		return nil, fmt.Errorf("%w: scenario has no requests", config.ErrInvalidConfig)
	}

	s := &RequestScenario{requests: make([]compiledRequest, 0, len(sc.Requests))}
	for i, rc := range sc.Requests {
		timeout, err := config.ParseDurationString(rc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: request %d timeout: %v", config.ErrInvalidConfig, i, err)
		}
		thinkTime, err := config.ParseDurationString(rc.ThinkTime)
		if err != nil {
			return nil, fmt.Errorf("%w: request %d thinkTime: %v", config.ErrInvalidConfig, i, err)
		}

		checks := make([]*Check, 0, len(rc.Checks))
		for _, cc := range rc.Checks {
			c, err := CompileCheck(cc)
			if err != nil {
				return nil, fmt.Errorf("request %d: %w", i, err)
			}
			checks = append(checks, c)
		}

		method := strings.ToUpper(rc.Method)
		if method == "" {
			method = http.MethodGet
		}

		s.requests = append(s.requests, compiledRequest{
			name:      rc.Name,
			method:    method,
			url:       rc.URL,
			headers:   rc.Headers,
			body:      rc.Body,
			timeout:   timeout,
			thinkTime: thinkTime,
			checks:    checks,
		})
	}

	return s, nil
}

// Run implements Scenario. Request errors are recorded as data, so a failed
// request still has its checks evaluated (they fail) and the iteration moves
// on to the next request.
func (s *RequestScenario) Run(ctx context.Context, it *Iteration) error {
	for _, rc := range s.requests {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req := &Request{
			Method:  rc.method,
			URL:     it.Resolve(rc.url),
			Header:  make(http.Header, len(rc.headers)),
			Timeout: rc.timeout,
		}
		for k, v := range rc.headers {
			req.Header.Set(k, it.Resolve(v))
		}
		if rc.body != "" {
			req.Body = []byte(it.Resolve(rc.body))
		}

		resp, _ := it.Do(ctx, rc.name, req)
		if len(rc.checks) > 0 {
			it.Check(resp, rc.checks...)
		}

		it.Sleep(ctx, rc.thinkTime)
	}

	return nil
}
