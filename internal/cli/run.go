package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/history"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/output"
)

const progressInterval = time.Second

func newRunCmd(v *viper.Viper) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, or a single-request test built
from flags.

Config file mode:
  stampede run test.yaml

Quick mode:
  stampede run --url http://localhost:8080/hello-resty \
    --stages "10s:20,20s:100,10s:0" \
    --threshold "http_req_duration=p(99)<1500"

Exit status: 0 passed, 99 thresholds failed, 104 invalid configuration,
105 interrupted, 1 any other error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, v, args)
		},
	}

	runCmd.Flags().StringP("config", "c", "", "configuration file (alternative to the positional argument)")
	runCmd.Flags().String("url", "", "URL to test (alternative to a configuration file)")
	runCmd.Flags().Int("vus", 0, "number of virtual users (quick mode, constant-vus)")
	runCmd.Flags().String("duration", "", "test duration, e.g. 30s or 5m (quick mode, constant-vus)")
	runCmd.Flags().String("stages", "", "stages as 'duration:target,...' (quick mode, ramping-vus)")
	runCmd.Flags().StringArray("threshold", nil, "threshold as 'metric=expression', repeatable")
	runCmd.Flags().String("transport", "", "HTTP transport: nethttp or fasthttp")
	runCmd.Flags().String("insufficient-data", "", "verdict of thresholds without samples: pass or fail")
	runCmd.Flags().StringP("out", "o", "", "write the JSON summary to this file ('-' for stdout)")
	runCmd.Flags().String("metrics-addr", "", "serve live Prometheus metrics on this address, e.g. :9090")
	runCmd.Flags().BoolP("quiet", "q", false, "disable progress output, print only the verdict")
	runCmd.Flags().Bool("no-color", false, "disable colored output")

	return runCmd
}

// runTest loads the configuration, runs the engine and reports the result.
// The returned error carries the exit code.
func runTest(cmd *cobra.Command, v *viper.Viper, args []string) error {
	logger, err := logging.New(v.GetString("log-level"), v.GetString("log-format"))
	if err != nil {
		return &exitError{code: engine.ExitError, err: err}
	}
	defer logger.Sync()

	configFile := v.GetString("config")
	if len(args) == 1 {
		configFile = args[0]
	}

	thresholdFlags, _ := cmd.Flags().GetStringArray("threshold")
	testConfig, err := loadTestConfig(configFile, thresholdFlags, v)
	if err != nil {
		return &exitError{code: engine.ExitCode(nil, err), err: err}
	}

	sink := metrics.NewEngine()
	if addr := v.GetString("metrics-addr"); addr != "" {
		_, stopMetrics, err := serveMetrics(addr, sink, logger)
		if err != nil {
			sink.Stop()
			return &exitError{code: engine.ExitError, err: err}
		}
		defer stopMetrics()
	}

	eng, err := engine.NewEngine(testConfig, engine.WithLogger(logger), engine.WithMetrics(sink))
	if err != nil {
		sink.Stop()
		return &exitError{code: engine.ExitCode(nil, err), err: err}
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no-color"),
	})
	console.PrintHeader(testConfig.Name, eng.RunID(), eng.Duration())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		result *engine.TestResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

progressLoop:
	for {
		select {
		case <-done:
			break progressLoop
		case <-ticker.C:
			console.PrintProgress(sink.Snapshot(), eng.Progress())
		}
	}

	if result != nil {
		console.PrintSummary(result)
		if err := writeOutputs(cmd, v, result); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}

	if code := engine.ExitCode(result, runErr); code != engine.ExitOK {
		return &exitError{code: code, err: runErr}
	}
	return nil
}

// loadTestConfig reads the configuration file, or builds a quick-mode
// configuration from flags, then applies the flag overrides.
func loadTestConfig(configFile string, thresholdFlags []string, v *viper.Viper) (*config.TestConfig, error) {
	var (
		testConfig *config.TestConfig
		err        error
	)

	switch {
	case configFile != "":
		testConfig, err = config.LoadConfig(configFile)
	case v.GetString("url") != "":
		testConfig, err = buildConfigFromCLI(v.GetString("url"), v.GetString("duration"), v.GetInt("vus"), v.GetString("stages"))
	default:
		err = fmt.Errorf("%w: either a configuration file or --url is required", config.ErrInvalidConfig)
	}
	if err != nil {
		return nil, err
	}

	thresholds, err := parseThresholds(thresholdFlags)
	if err != nil {
		return nil, err
	}
	if len(thresholds) > 0 && testConfig.Thresholds == nil {
		testConfig.Thresholds = make(map[string]config.ThresholdList)
	}
	for key, list := range thresholds {
		testConfig.Thresholds[key] = append(testConfig.Thresholds[key], list...)
	}

	if transport := v.GetString("transport"); transport != "" {
		testConfig.Settings.Transport = transport
	}
	if policy := v.GetString("insufficient-data"); policy != "" {
		if testConfig.Options == nil {
			testConfig.Options = &config.ExecutionOptions{}
		}
		testConfig.Options.InsufficientData = policy
	}

	return testConfig, nil
}

// buildConfigFromCLI builds a single-scenario TestConfig from CLI flags.
// Stages select ramping-vus; otherwise the test runs constant-vus.
func buildConfigFromCLI(url, duration string, vus int, stages string) (*config.TestConfig, error) {
	scenario := &config.ScenarioConfig{
		Requests: []config.RequestConfig{
			{
				Name:   "cli-request",
				Method: "GET",
				URL:    url,
			},
		},
	}

	if stages != "" {
		parsedStages, err := parseStages(stages)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid stages format: %v", config.ErrInvalidConfig, err)
		}
		scenario.Executor = config.ExecutorRampingVUs
		scenario.StartVUs = vus
		scenario.Stages = parsedStages
	} else {
		if vus == 0 {
			vus = 10
		}
		if duration == "" {
			duration = "30s"
		}
		scenario.Executor = config.ExecutorConstantVUs
		scenario.VUs = vus
		scenario.Duration = duration
	}

	return &config.TestConfig{
		Name:        "CLI Test",
		Description: fmt.Sprintf("Test generated from CLI flags for %s", url),
		Scenarios: map[string]*config.ScenarioConfig{
			"default": scenario,
		},
	}, nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Parse "duration:target" format
		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		if _, err := time.ParseDuration(durationStr); err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil || target < 0 {
			return nil, fmt.Errorf("stage %d: invalid target '%s'", i+1, targetStr)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// parseThresholds parses "metric=expression" flags. The first '=' splits,
// so "checks=rate==1" is the expression "rate==1" on checks.
func parseThresholds(flags []string) (map[string]config.ThresholdList, error) {
	thresholds := make(map[string]config.ThresholdList)
	for _, f := range flags {
		key, expr, ok := strings.Cut(f, "=")
		key, expr = strings.TrimSpace(key), strings.TrimSpace(expr)
		if !ok || key == "" || expr == "" {
			return nil, fmt.Errorf("%w: threshold %q: expected 'metric=expression'", config.ErrInvalidConfig, f)
		}
		thresholds[key] = append(thresholds[key], config.ThresholdConfig{Threshold: expr})
	}
	return thresholds, nil
}

// serveMetrics exposes sink on addr/metrics until the returned function is
// called. It returns the bound address.
func serveMetrics(addr string, sink *metrics.Engine, logger *zap.Logger) (string, func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(sink),
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

// writeOutputs writes the JSON summary and stores the run in the history.
func writeOutputs(cmd *cobra.Command, v *viper.Viper, result *engine.TestResult) error {
	if out := v.GetString("out"); out != "" {
		if err := writeJSONResult(cmd, out, result); err != nil {
			return err
		}
	}

	if path := v.GetString("history"); path != "" {
		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Save(output.NewReport(result)); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
	}
	return nil
}

func writeJSONResult(cmd *cobra.Command, path string, result *engine.TestResult) error {
	if path == "-" {
		return output.WriteJSON(cmd.OutOrStdout(), result)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := output.WriteJSON(f, result); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
