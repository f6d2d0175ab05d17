package llm

import (
	"context"
	"time"

	"github.com/muchaco/council/internal/cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ModelCache is the subset of the cache manager used for the model list.
type ModelCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CacheRecorder counts model cache lookups.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CachedGateway caches ListModels results and collapses concurrent lookups.
// Generate calls pass straight through.
type CachedGateway struct {
	Gateway
	store  ModelCache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
	rec    CacheRecorder
}

// NewCachedGateway wraps next. A nil cache still deduplicates in-flight calls.
func NewCachedGateway(next Gateway, store ModelCache, ttl time.Duration, logger *zap.Logger) *CachedGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedGateway{
		Gateway: next,
		store:   store,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "model_cache")),
	}
}

// WithRecorder sets the hit/miss recorder.
func (g *CachedGateway) WithRecorder(r CacheRecorder) *CachedGateway {
	g.rec = r
	return g
}

func (g *CachedGateway) cacheKey() string {
	return "council:models:" + g.Gateway.Name()
}

// ListModels returns the cached list, refreshing it on miss.
func (g *CachedGateway) ListModels(ctx context.Context) ([]Model, error) {
	key := g.cacheKey()
	if g.store != nil {
		var cached []Model
		err := g.store.GetJSON(ctx, key, &cached)
		if err == nil {
			if g.rec != nil {
				g.rec.RecordCacheHit("models")
			}
			return cached, nil
		}
		if g.rec != nil {
			g.rec.RecordCacheMiss("models")
		}
		if !cache.IsCacheMiss(err) {
			g.logger.Warn("model cache read failed", zap.Error(err))
		}
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		models, err := g.Gateway.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		if g.store != nil {
			if err := g.store.SetJSON(ctx, key, models, g.ttl); err != nil {
				g.logger.Warn("model cache write failed", zap.Error(err))
			}
		}
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Model), nil
}
