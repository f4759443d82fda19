package service

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"registry-service/internal/core"
	"registry-service/internal/platform/metrics"
)

// EventCompanyFetched is published after every stored version.
const EventCompanyFetched = "CompanyFetched"

// Operation labels used in logs and metrics.
const (
	opInfo    = "info"
	opRefresh = "refresh"
	opHistory = "history"
)

// CompanyFetchedEvent is the payload of EventCompanyFetched.
type CompanyFetchedEvent struct {
	CountryCode core.CountryCode `json:"countryCode"`
	CompanyID   string           `json:"companyId"`
	Version     int              `json:"version"`
	FetchedAt   time.Time        `json:"fetchedAt"`
	Company     core.Company     `json:"company"`
}

// CompanyService resolves companies through the versioned cache, falling back
// to the national registry of the country on a miss.
type CompanyService struct {
	store    core.CacheStore
	factory  core.ProviderFactory
	producer core.EventProducer
	ttl      time.Duration

	negative *cache.Cache

	log     *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// Option configures a CompanyService.
type Option func(*CompanyService)

func WithEventProducer(p core.EventProducer) Option {
	return func(s *CompanyService) { s.producer = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *CompanyService) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *CompanyService) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *CompanyService) { s.tracer = t }
}

// WithNegativeTTL remembers CompanyNotFound results in process for ttl.
// Zero disables the memo.
func WithNegativeTTL(ttl time.Duration) Option {
	return func(s *CompanyService) {
		if ttl > 0 {
			s.negative = cache.New(ttl, 2*ttl)
		} else {
			s.negative = nil
		}
	}
}

func NewCompanyService(store core.CacheStore, factory core.ProviderFactory, ttl time.Duration, opts ...Option) *CompanyService {
	s := &CompanyService{
		store:   store,
		factory: factory,
		ttl:     ttl,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCompanyInfo returns the current record when it is fresh and otherwise
// fetches, stores and returns a new version.
func (s *CompanyService) GetCompanyInfo(ctx context.Context, countryToken, companyID string) (*core.Company, error) {
	ctx, span := s.startSpan(ctx, "CompanyService.GetCompanyInfo", countryToken, companyID)
	defer span.End()

	country, id, err := s.validate(countryToken, companyID)
	if err != nil {
		return nil, s.fail(span, opInfo, countryToken, companyID, err)
	}
	log := s.log.With(zap.String("country", country.String()), zap.String("company_id", id))

	fresh, err := s.store.IsFresh(ctx, id, country, s.ttl)
	if err != nil {
		return nil, s.fail(span, opInfo, country.String(), id, err)
	}
	if fresh {
		company, err := s.store.FindCurrent(ctx, id, country)
		if err != nil {
			return nil, s.fail(span, opInfo, country.String(), id, err)
		}
		if company != nil {
			log.Debug("cache hit")
			span.SetAttributes(attribute.Bool("cache.hit", true))
			s.metrics.IncLookup(country.String(), opInfo, metrics.OutcomeCacheHit)
			return company, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	log.Debug("cache miss")

	if s.negative != nil {
		if _, found := s.negative.Get(companyKey(country, id)); found {
			s.metrics.IncLookup(country.String(), opInfo, metrics.OutcomeNegative)
			err := core.NewCompanyNotFound(country, id)
			recordError(span, err)
			return nil, err
		}
	}

	company, err := s.fetchAndStore(ctx, country, id)
	if err != nil {
		return nil, s.fail(span, opInfo, country.String(), id, err)
	}
	s.metrics.IncLookup(country.String(), opInfo, metrics.OutcomeFetched)
	return company, nil
}

// Refresh always refetches from the registry and stores a new version.
func (s *CompanyService) Refresh(ctx context.Context, countryToken, companyID string) (*core.Company, error) {
	ctx, span := s.startSpan(ctx, "CompanyService.Refresh", countryToken, companyID)
	defer span.End()

	country, id, err := s.validate(countryToken, companyID)
	if err != nil {
		return nil, s.fail(span, opRefresh, countryToken, companyID, err)
	}

	company, err := s.fetchAndStore(ctx, country, id)
	if err != nil {
		return nil, s.fail(span, opRefresh, country.String(), id, err)
	}
	s.metrics.IncLookup(country.String(), opRefresh, metrics.OutcomeFetched)
	return company, nil
}

// History lists the non-tombstoned versions of a company, newest first.
func (s *CompanyService) History(ctx context.Context, countryToken, companyID string) ([]core.CachedRecord, error) {
	ctx, span := s.startSpan(ctx, "CompanyService.History", countryToken, companyID)
	defer span.End()

	country, id, err := s.validate(countryToken, companyID)
	if err != nil {
		return nil, s.fail(span, opHistory, countryToken, companyID, err)
	}

	records, err := s.store.GetHistory(ctx, id, country)
	if err != nil {
		return nil, s.fail(span, opHistory, country.String(), id, err)
	}
	span.SetAttributes(attribute.Int("history.count", len(records)))
	return records, nil
}

func (s *CompanyService) validate(countryToken, companyID string) (core.CountryCode, string, error) {
	country, err := core.ParseCountryCode(countryToken)
	if err != nil {
		return core.CountryCode{}, "", err
	}
	return country, country.CanonicalCompanyID(companyID), nil
}

func (s *CompanyService) fetchAndStore(ctx context.Context, country core.CountryCode, id string) (*core.Company, error) {
	provider, err := s.factory.Make(country)
	if err != nil {
		return nil, err
	}

	if !provider.CanHandle(id) {
		s.rememberNotFound(country, id)
		return nil, core.NewCompanyNotFound(country, id)
	}

	start := time.Now()
	result, err := provider.FetchCompany(ctx, id)
	s.metrics.ObserveUpstream(country.String(), upstreamResult(err), time.Since(start))
	if err != nil {
		if core.KindOf(err) == core.KindUnknown {
			err = core.NewRegistryUnavailable(country, id, err)
		}
		if errors.Is(err, core.ErrCompanyNotFound) {
			s.rememberNotFound(country, id)
		}
		return nil, err
	}

	rec, err := s.store.Store(ctx, &result.Company, result.RawPayload)
	if err != nil {
		if core.KindOf(err) == core.KindUnknown {
			err = core.NewPersistence("store", err)
		}
		return nil, err
	}
	s.metrics.IncStored(country.String())
	if s.negative != nil {
		s.negative.Delete(companyKey(country, id))
	}

	s.log.Info("stored company version",
		zap.String("country", country.String()),
		zap.String("company_id", id),
		zap.Int("version", rec.Version),
		zap.Duration("duration", time.Since(start)),
	)
	s.publish(ctx, rec)

	company := rec.Company
	return &company, nil
}

func (s *CompanyService) publish(ctx context.Context, rec *core.CachedRecord) {
	if s.producer == nil {
		return
	}
	event := CompanyFetchedEvent{
		CountryCode: rec.Country,
		CompanyID:   rec.CompanyID,
		Version:     rec.Version,
		FetchedAt:   rec.FetchedAt,
		Company:     rec.Company,
	}
	if err := s.producer.Publish(ctx, EventCompanyFetched, companyKey(rec.Country, rec.CompanyID), event); err != nil {
		s.log.Warn("failed to publish event",
			zap.String("event", EventCompanyFetched),
			zap.String("country", rec.Country.String()),
			zap.String("company_id", rec.CompanyID),
			zap.Error(err),
		)
	}
}

func (s *CompanyService) rememberNotFound(country core.CountryCode, id string) {
	if s.negative != nil {
		s.negative.SetDefault(companyKey(country, id), struct{}{})
	}
}

func (s *CompanyService) fail(span trace.Span, op, country, id string, err error) error {
	recordError(span, err)
	kind := core.KindOf(err)
	label := country
	if kind == core.KindInvalidCountryCode {
		label = metrics.CountryInvalid
	}
	s.metrics.IncLookup(label, op, metrics.OutcomeFailed)

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("country", country),
		zap.String("company_id", id),
		zap.String("kind", kind.String()),
		zap.Error(err),
	}
	switch kind {
	case core.KindInvalidCountryCode, core.KindCompanyNotFound:
		s.log.Debug("lookup rejected", fields...)
	default:
		s.log.Error("lookup failed", fields...)
	}
	return err
}

func companyKey(country core.CountryCode, id string) string {
	return country.String() + ":" + id
}

func upstreamResult(err error) string {
	if err == nil {
		return "ok"
	}
	return core.KindOf(err).String()
}
