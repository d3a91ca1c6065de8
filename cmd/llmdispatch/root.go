package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	ld "github.com/ineyio/llmdispatch"
	"github.com/ineyio/llmdispatch/artifact"
	"github.com/ineyio/llmdispatch/meter"
	"github.com/ineyio/llmdispatch/meter/prom"
	"github.com/ineyio/llmdispatch/provider/openaicompat"
)

var (
	flagConfig      string
	flagBaseURL     string
	flagAPIKey      string
	flagModel       string
	flagSystem      string
	flagLabel       string
	flagJSON        bool
	flagTemperature float64
	flagMaxAttempts int
	flagArtifactDir string
	flagMetricsAddr string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:          "llmdispatch",
	Short:        "Rate-limited streaming completion dispatcher",
	Long:         "Send prompts to an OpenAI-compatible service under the rate limits it reports.",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	pf.StringVar(&flagBaseURL, "base-url", "", "Service base URL (default https://api.openai.com/v1)")
	pf.StringVar(&flagAPIKey, "api-key", "", "API key (default $OPENAI_API_KEY)")
	pf.StringVarP(&flagModel, "model", "m", "", "Model id (default gpt-3.5-turbo)")
	pf.StringVarP(&flagSystem, "system", "s", "", "System message")
	pf.StringVarP(&flagLabel, "label", "l", "", "Label used in logs and artifact names")
	pf.BoolVar(&flagJSON, "json", false, "Request a JSON object response")
	pf.Float64VarP(&flagTemperature, "temperature", "t", -1, "Sampling temperature (unset when negative)")
	pf.IntVar(&flagMaxAttempts, "max-attempts", 0, "Transient failure budget per request")
	pf.StringVarP(&flagArtifactDir, "artifact-dir", "o", "", "Directory for request artifacts")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Log every transition")
}

// app is the wired dispatcher of one command run.
type app struct {
	dispatcher *ld.Dispatcher
	store      *artifact.Store
	metrics    *http.Server
	logger     *slog.Logger
}

func newApp() (*app, error) {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := ld.Config{}
	if flagConfig != "" {
		var err error
		if cfg, err = ld.LoadConfig(flagConfig); err != nil {
			return nil, err
		}
	}
	override(&cfg.BaseURL, flagBaseURL)
	override(&cfg.Auth.APIKey, flagAPIKey)
	override(&cfg.DefaultModel, flagModel)
	override(&cfg.ArtifactDir, flagArtifactDir)
	if flagMaxAttempts > 0 {
		cfg.MaxAttempts = flagMaxAttempts
	}
	if cfg.Auth.APIKey == "" {
		cfg.Auth.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-3.5-turbo"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	proxy, err := ld.LoadProxyConfig()
	if err != nil {
		return nil, err
	}
	opts := []openaicompat.Option{openaicompat.WithHTTPClient(proxy.NewHTTPClient())}
	var provider *openaicompat.Provider
	if cfg.BaseURL != "" {
		provider = openaicompat.New("openai", cfg.BaseURL, opts...)
	} else {
		provider = openaicompat.NewOpenAI(opts...)
	}

	a := &app{logger: logger}
	meters := []ld.Meter{meter.NewLogMeter(logger)}
	dopts := append(cfg.Options(), ld.WithLogger(logger))

	if cfg.ArtifactDir != "" {
		a.store = artifact.New(cfg.ArtifactDir, artifact.WithLogger(logger))
		meters = append(meters, a.store)
		dopts = append(dopts, ld.WithArtifactStore(a.store))
	}

	if flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		pm, err := prom.New(reg)
		if err != nil {
			return nil, err
		}
		meters = append(meters, pm)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		a.metrics = &http.Server{Addr: flagMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", flagMetricsAddr, "error", err)
			}
		}()
	}

	dopts = append(dopts, ld.WithMeter(meter.NewMulti(meters...)))
	d, err := ld.NewDispatcher(provider, dopts...)
	if err != nil {
		return nil, err
	}
	a.dispatcher = d
	return a, nil
}

// close shuts the dispatcher down, flushes artifacts and prints the fleet
// totals to stderr.
func (a *app) close() {
	a.dispatcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("artifact flush incomplete", "error", err)
		}
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	printTotals(os.Stderr, a.dispatcher.Totals())
}

func printTotals(w io.Writer, totals map[ld.Bucket]ld.Tokens) {
	buckets := make([]ld.Bucket, 0, len(totals))
	for b := range totals {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	for _, b := range buckets {
		t := totals[b]
		fmt.Fprintf(w, "%-9s prompt=%d completion=%d cost=$%.4f\n",
			b, t.PromptUnits, t.CompletionUnits, t.Cost)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// buildRequest reads the prompt from args, or stdin when args is empty or
// "-".
func buildRequest(args []string, stdin io.Reader) (ld.Request, error) {
	var prompt string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return ld.Request{}, fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(b)
	} else {
		prompt = strings.Join(args, " ")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ld.Request{}, errors.New("empty prompt")
	}

	r := ld.Request{
		Label:         flagLabel,
		Prompt:        prompt,
		SystemMessage: flagSystem,
	}
	if flagTemperature >= 0 {
		r.Temperature = ld.Float64Ptr(flagTemperature)
	}
	if flagJSON {
		r.ResponseFormat = ld.FormatJSONObject
	}
	return r, nil
}
