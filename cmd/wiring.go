package main

import (
	"context"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cropdoc/internal/cache"
	"github.com/sells-group/cropdoc/internal/config"
	"github.com/sells-group/cropdoc/internal/diagnosis"
	"github.com/sells-group/cropdoc/internal/knowledge"
	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/monitoring"
	"github.com/sells-group/cropdoc/internal/resilience"
	"github.com/sells-group/cropdoc/internal/scorer"
	"github.com/sells-group/cropdoc/internal/store"
	"github.com/sells-group/cropdoc/internal/symptoms"
	"github.com/sells-group/cropdoc/internal/validation"
	"github.com/sells-group/cropdoc/pkg/anthropic"
	"github.com/sells-group/cropdoc/pkg/registry"
	"github.com/sells-group/cropdoc/pkg/safety"
	"github.com/sells-group/cropdoc/pkg/weather"
)

func httpClientFor(sc config.ServiceConfig) *http.Client {
	timeout := 15 * time.Second
	if sc.TimeoutSecs > 0 {
		timeout = time.Duration(sc.TimeoutSecs) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func newWeatherClient() weather.Client {
	return weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.Key,
		weather.WithHTTPClient(httpClientFor(cfg.Weather)),
		weather.WithRateLimit(cfg.Weather.RateLimit),
	)
}

// buildDiagnosis wires the diagnosis service. A nil store leaves the static
// table as the only knowledge source and disables the shared cache tier.
func buildDiagnosis(st store.Store) (*diagnosis.Service, error) {
	static, err := knowledge.NewStaticSource()
	if err != nil {
		return nil, err
	}
	sc, err := scorer.FromConfig(cfg.Diagnosis)
	if err != nil {
		return nil, err
	}

	sources := []knowledge.Source{static}
	describers := knowledge.Describers{static}
	var shared cache.Shared
	if st != nil {
		sources = []knowledge.Source{knowledge.NewStoreSource(st), static}
		describers = knowledge.Describers{st, static}
		if cfg.Cache.SharedEnabled {
			shared = st
		}
	}

	resolver := diagnosis.NewResolver(sources, sc,
		diagnosis.WithStageDescriber(describers),
		diagnosis.WithMinConfidence(cfg.Diagnosis.MinConfidence),
		diagnosis.WithMaxMatches(cfg.Diagnosis.MaxMatches),
	)

	tiered := cache.NewTiered[*model.DiagnosisResult](
		cache.NewLocal[*model.DiagnosisResult](cfg.Cache.LocalMaxEntries),
		shared,
		cache.JSONZstd[*model.DiagnosisResult]{},
		cache.Options{
			ComputeTimeout: cfg.Cache.ComputeTimeout,
			SharedTimeout:  cfg.Cache.SharedTimeout,
			Breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig(
				"shared-cache", cfg.Cache.BreakerFailureThreshold, secs(cfg.Cache.BreakerResetSecs),
			)),
		},
	)

	opts := []diagnosis.ServiceOption{
		diagnosis.WithTTLPolicy(diagnosis.TTLPolicy(cfg.Cache.ShortTTL, cfg.Cache.LongTTL)),
	}
	if cfg.Diagnosis.EnrichEnvironment && cfg.Weather.BaseURL != "" {
		opts = append(opts, diagnosis.WithWeather(newWeatherClient()))
	}
	if cfg.Anthropic.Key != "" {
		extractor := symptoms.NewExtractor(
			anthropic.NewClient(cfg.Anthropic.Key),
			cfg.Anthropic.Model,
			cfg.Anthropic.MaxTokens,
			symptoms.WithVocabulary(vocabulary(static)),
		)
		opts = append(opts, diagnosis.WithExtractor(extractor))
	}

	return diagnosis.NewService(resolver, tiered, opts...), nil
}

// vocabulary lists every symptom token the static table knows.
func vocabulary(static *knowledge.StaticSource) []string {
	var out []string
	for _, rec := range static.Records() {
		out = append(out, rec.Symptoms...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// validationStack is the write path plus the background workers.
type validationStack struct {
	recorder *validation.Recorder
	pool     *validation.Pool
	sweeper  *validation.Sweeper
	// monitor is nil when monitoring is disabled.
	monitor *monitoring.Checker
}

// run starts the pool, the sweeper and, when enabled, the health monitor
// under g.
func (vs *validationStack) run(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return vs.pool.Run(ctx) })
	g.Go(func() error { return vs.sweeper.Run(ctx) })
	if vs.monitor != nil {
		g.Go(func() error { return vs.monitor.Run(ctx) })
	}
}

func buildValidation(st store.Store) (*validationStack, error) {
	vc := cfg.Validation
	checker := validation.NewChecker(
		registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.Key,
			registry.WithHTTPClient(httpClientFor(cfg.Registry)),
			registry.WithRateLimit(cfg.Registry.RateLimit),
		),
		newWeatherClient(),
		safety.NewClient(cfg.Safety.BaseURL, cfg.Safety.Key,
			safety.WithHTTPClient(httpClientFor(cfg.Safety)),
			safety.WithRateLimit(cfg.Safety.RateLimit),
		),
		validation.WithBreakers(resilience.NewServiceBreakers(
			resilience.BreakerConfig("validation", vc.BreakerFailureThreshold, secs(vc.BreakerResetSecs)),
		)),
		validation.WithCallTimeout(vc.CallTimeout),
		validation.WithWeatherWindow(vc.WeatherWindow),
	)

	pool := validation.NewPool(st, checker, validation.PoolConfigFrom(vc))
	sweeper, err := validation.NewSweeper(st, vc.SweepSchedule, pool.Wake)
	if err != nil {
		return nil, err
	}
	vs := &validationStack{
		recorder: validation.NewRecorder(st, validation.WithNotify(pool.Wake)),
		pool:     pool,
		sweeper:  sweeper,
	}
	if cfg.Monitoring.Enabled {
		vs.monitor = monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewWebhook(cfg.Monitoring.WebhookURL), cfg.Monitoring)
	}
	return vs, nil
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
