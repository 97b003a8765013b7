package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/promptsentinel/promptsentinel/internal/metrics"
	"github.com/promptsentinel/promptsentinel/internal/models"
)

// CachedJudge caches verdicts by prompt content hash, bounding cost when the
// same anomalous prompt is replayed within the TTL. Only successful verdicts
// are cached; failures are re-attempted so a recovered judge is used
// immediately. The anomaly score is context for the model, not part of the
// identity of the judged prompt, so it is excluded from the cache key.
type CachedJudge struct {
	inner Judge
	cache *expirable.LRU[string, models.JudgeVerdict]
}

// NewCachedJudge wraps a judge with an LRU verdict cache of the given size
// and TTL.
func NewCachedJudge(inner Judge, size int, ttl time.Duration) *CachedJudge {
	return &CachedJudge{
		inner: inner,
		cache: expirable.NewLRU[string, models.JudgeVerdict](size, nil, ttl),
	}
}

func (c *CachedJudge) Name() string { return c.inner.Name() }

// Judge implements Judge.Judge, consulting the cache first.
func (c *CachedJudge) Judge(ctx context.Context, promptText string, anomalyScore float64) (models.JudgeVerdict, error) {
	key := promptKey(promptText)
	if v, ok := c.cache.Get(key); ok {
		metrics.JudgeCacheHits.Inc()
		return v, nil
	}
	metrics.JudgeCacheMisses.Inc()

	v, err := c.inner.Judge(ctx, promptText, anomalyScore)
	if err != nil {
		return models.JudgeVerdict{}, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func promptKey(promptText string) string {
	sum := sha256.Sum256([]byte(promptText))
	return hex.EncodeToString(sum[:])
}
