package quote

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"paperTrading/internal/metrics"
)

const (
	keySpot        = "quote:spot"
	keySpotLast    = "quote:spot:last"
	keyHistory     = "quote:history"
	keyHistoryLast = "quote:history:last"

	// Last known real values outlive the fresh window so they can stand in
	// during an upstream outage.
	lastGoodTTL = 24 * time.Hour
)

// Service answers every quote request: fresh cache, then upstream, then the
// last real value, then a synthesized placeholder.
type Service struct {
	upstream   Upstream
	cache      Cache
	synth      *Synthesizer
	spotTTL    time.Duration
	historyTTL time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

func WithCache(c Cache) ServiceOption { return func(s *Service) { s.cache = c } }

func WithSynthesizer(sy *Synthesizer) ServiceOption { return func(s *Service) { s.synth = sy } }

func WithTTL(spot, history time.Duration) ServiceOption {
	return func(s *Service) {
		s.spotTTL = spot
		s.historyTTL = history
	}
}

func WithMetrics(m *metrics.Metrics) ServiceOption { return func(s *Service) { s.metrics = m } }

func WithLogger(l *zap.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

// NewService builds a Service. A nil upstream always synthesizes.
func NewService(upstream Upstream, opts ...ServiceOption) *Service {
	s := &Service{
		upstream:   upstream,
		spotTTL:    30 * time.Second,
		historyTTL: 5 * time.Minute,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.synth == nil {
		s.synth = NewSynthesizer(time.Now().UnixNano(), nil)
	}
	return s
}

func (s *Service) Spot(ctx context.Context) (Result[Spot], error) {
	var cached Spot
	if s.cacheGet(ctx, keySpot, &cached) {
		return record(s, "spot", Real(cached)), nil
	}
	if s.upstream != nil {
		spot, err := s.upstream.Spot(ctx)
		if err == nil {
			s.cacheSet(ctx, keySpot, spot, s.spotTTL)
			s.cacheSet(ctx, keySpotLast, spot, lastGoodTTL)
			return record(s, "spot", Real(spot)), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result[Spot]{}, ctxErr
		}
		s.logUpstream("spot", err)
		if s.cacheGet(ctx, keySpotLast, &cached) {
			return record(s, "spot", Real(cached)), nil
		}
	}
	return record(s, "spot", Synthesized(s.synth.Spot())), nil
}

func (s *Service) History(ctx context.Context) (Result[[]PricePoint], error) {
	var cached []PricePoint
	if s.cacheGet(ctx, keyHistory, &cached) {
		return record(s, "history", Real(cached)), nil
	}
	if s.upstream != nil {
		points, err := s.upstream.History(ctx)
		if err == nil {
			s.cacheSet(ctx, keyHistory, points, s.historyTTL)
			s.cacheSet(ctx, keyHistoryLast, points, lastGoodTTL)
			return record(s, "history", Real(points)), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result[[]PricePoint]{}, ctxErr
		}
		s.logUpstream("history", err)
		if s.cacheGet(ctx, keyHistoryLast, &cached) {
			return record(s, "history", Real(cached)), nil
		}
	}
	return record(s, "history", Synthesized(s.synth.History())), nil
}

func record[T any](s *Service, kind string, r Result[T]) Result[T] {
	s.metrics.RecordQuote(kind, string(r.Source))
	return r
}

func (s *Service) logUpstream(kind string, err error) {
	if errors.Is(err, ErrRateLimited) {
		s.logger.Info("quote upstream rate limited", zap.String("kind", kind))
		return
	}
	s.logger.Warn("quote upstream failed", zap.String("kind", kind), zap.Error(err))
}

func (s *Service) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.Get(ctx, key, out)
	if err != nil {
		s.logger.Warn("quote cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("quote cache write failed", zap.String("key", key), zap.Error(err))
	}
}
