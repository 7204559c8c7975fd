package diagnosis

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/cache"
	"github.com/sells-group/cropdoc/internal/model"
)

// WeatherProvider supplies current readings for a location.
type WeatherProvider interface {
	CurrentConditions(ctx context.Context, loc model.Location, window model.TimeWindow) (model.Environment, error)
}

// SymptomExtractor turns a free-text description into symptom tokens.
type SymptomExtractor interface {
	Extract(ctx context.Context, crop, text string) ([]string, error)
}

// Default TTLs for cached diagnoses.
const (
	DefaultShortTTL = 15 * time.Minute
	DefaultLongTTL  = 6 * time.Hour
)

// TTLPolicy caches environment-based results for short and symptom-only
// results for long.
func TTLPolicy(short, long time.Duration) cache.TTLPolicy[*model.DiagnosisResult] {
	return func(r *model.DiagnosisResult) time.Duration {
		if r == nil {
			return 0
		}
		if r.EnvironmentBased {
			return short
		}
		return long
	}
}

// Service is the diagnose entry point: validation, cache lookup, optional
// environment enrichment and resolution.
type Service struct {
	resolver  *Resolver
	cache     *cache.Tiered[*model.DiagnosisResult]
	policy    cache.TTLPolicy[*model.DiagnosisResult]
	weather   WeatherProvider
	extractor SymptomExtractor

	enrichWindow  time.Duration
	enrichTimeout time.Duration

	now func() time.Time
	log *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithWeather enables best-effort enrichment of missing readings.
func WithWeather(w WeatherProvider) ServiceOption {
	return func(s *Service) { s.weather = w }
}

// WithExtractor enables DiagnoseText.
func WithExtractor(e SymptomExtractor) ServiceOption {
	return func(s *Service) { s.extractor = e }
}

// WithTTLPolicy overrides the cache TTL policy.
func WithTTLPolicy(p cache.TTLPolicy[*model.DiagnosisResult]) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithEnrichTimeout bounds the weather lookup made during enrichment.
func WithEnrichTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.enrichTimeout = d
		}
	}
}

// NewService creates a Service. A nil cache builds a local-only cache.
func NewService(resolver *Resolver, c *cache.Tiered[*model.DiagnosisResult], opts ...ServiceOption) *Service {
	if c == nil {
		c = cache.NewTiered[*model.DiagnosisResult](cache.NewLocal[*model.DiagnosisResult](0), nil, nil, cache.Options{})
	}
	s := &Service{
		resolver:      resolver,
		cache:         c,
		policy:        TTLPolicy(DefaultShortTTL, DefaultLongTTL),
		enrichWindow:  time.Hour,
		enrichTimeout: 5 * time.Second,
		now:           time.Now,
		log:           zap.L().With(zap.String("component", "diagnosis")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Diagnose validates ev and returns its ranked diagnosis. Invalid evidence
// yields a model.InputError. When no knowledge source could answer the
// error wraps model.ErrKnowledgeUnavailable.
func (s *Service) Diagnose(ctx context.Context, ev model.EvidenceSet) (*model.DiagnosisResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	ev = cache.Normalize(ev)
	key := cache.Key(ev)
	return s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*model.DiagnosisResult, error) {
		return s.resolver.Resolve(ctx, cache.Normalize(s.enrich(ctx, ev)))
	}, s.policy)
}

// DiagnoseText extracts symptoms from description, adds them to ev and
// diagnoses the result. Symptoms already on ev are kept.
func (s *Service) DiagnoseText(ctx context.Context, ev model.EvidenceSet, description string) (*model.DiagnosisResult, error) {
	if s.extractor == nil {
		return nil, eris.Wrap(model.ErrSourceUnavailable, "diagnosis: symptom extraction is not configured")
	}

	tokens, err := s.extractor.Extract(ctx, ev.Crop, description)
	if err != nil {
		if model.IsInputError(err) {
			return nil, err
		}
		if len(ev.Symptoms) == 0 {
			return nil, eris.Wrapf(model.ErrSourceUnavailable, "diagnosis: extract symptoms: %v", err)
		}
		s.log.Warn("symptom extraction failed, using supplied symptoms", zap.Error(err))
	}

	out := ev.WithEnvironment(ev.Environment)
	out.Symptoms = append(out.Symptoms, tokens...)
	return s.Diagnose(ctx, out)
}

// enrich fills readings missing from ev using the weather collaborator.
// Any failure leaves ev unchanged.
func (s *Service) enrich(ctx context.Context, ev model.EvidenceSet) model.EvidenceSet {
	if s.weather == nil || ev.Location == nil || complete(ev.Environment) {
		return ev
	}

	wctx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
	defer cancel()

	env, err := s.weather.CurrentConditions(wctx, *ev.Location, model.WindowEnding(s.now(), s.enrichWindow))
	if err != nil {
		s.log.Warn("weather enrichment failed, using supplied readings",
			zap.String("crop", ev.Crop),
			zap.Error(err),
		)
		return ev
	}
	return ev.WithEnvironment(ev.Environment.Merge(env))
}

func complete(env model.Environment) bool {
	for _, f := range model.EnvFields {
		if _, ok := env.Value(f); !ok {
			return false
		}
	}
	return true
}

// Cache returns the tiered cache backing the service.
func (s *Service) Cache() *cache.Tiered[*model.DiagnosisResult] {
	return s.cache
}
