package g2p

import (
	"context"
	"errors"
	"time"

	"talky/pkg/cache"
	"talky/pkg/logger"

	"go.uber.org/zap"
)

// Cached memoizes another Converter in a shared cache. Cache failures are
// logged and fall through to the wrapped converter.
type Cached struct {
	next  Converter
	cache cache.Cache
	ttl   time.Duration
}

// NewCached wraps next with a cache. A zero ttl uses the cache default.
func NewCached(next Converter, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

// Phonemes implements Converter.
func (c *Cached) Phonemes(ctx context.Context, word string) ([]string, error) {
	key := cache.G2PCacheKey(normalizeWord(word))

	var phonemes []string
	err := c.cache.Get(ctx, key, &phonemes)
	if err == nil {
		return phonemes, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		logger.Warn("G2P cache read failed", zap.String("word", word), zap.Error(err))
	}

	phonemes, err = c.next.Phonemes(ctx, word)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		err = c.cache.SetWithTTL(ctx, key, phonemes, c.ttl)
	} else {
		err = c.cache.Set(ctx, key, phonemes)
	}
	if err != nil {
		logger.Warn("G2P cache write failed", zap.String("word", word), zap.Error(err))
	}

	return phonemes, nil
}
