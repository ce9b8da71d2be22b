package memory

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

const DefaultReportTTL = 15 * time.Minute

// ReportCache keeps the last complete report per analysis id in process memory.
type ReportCache struct {
	cache *cache.Cache
}

func NewReportCache(ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = DefaultReportTTL
	}
	return &ReportCache{cache: cache.New(ttl, 2*ttl)}
}

// Set ignores pending results; only complete reports are worth falling back to.
func (c *ReportCache) Set(analysisID string, result *domain.ReportResult) {
	if result == nil || result.Report == nil {
		return
	}
	c.cache.Set(analysisID, result, cache.DefaultExpiration)
}

func (c *ReportCache) Get(analysisID string) (*domain.ReportResult, bool) {
	x, found := c.cache.Get(analysisID)
	if !found {
		return nil, false
	}
	result, ok := x.(*domain.ReportResult)
	return result, ok
}

func (c *ReportCache) Len() int {
	return c.cache.ItemCount()
}
