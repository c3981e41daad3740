package catalog

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"ott-proxy/work/cache"
	"ott-proxy/work/logger"
	"ott-proxy/work/metrics"
	"ott-proxy/work/securelink"
	"ott-proxy/work/tokens"
)

// Issuer mints tokens for upstream URLs. *tokens.Store satisfies it.
type Issuer interface {
	Issue(targetURL string) string
}

// Link is one tokenized quality offered to the client.
type Link struct {
	Label      string `json:"label"`
	URL        string `json:"url"`
	Resolution int    `json:"resolution,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// StreamInfo is the response of StreamLinks.
type StreamInfo struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Title     string `json:"title"`
	Quality   string `json:"quality"`
	Qualities []Link `json:"qualities"`
}

// Service turns catalog items into secure, tokenized stream links.
type Service struct {
	resolver Resolver
	tokens   Issuer
	links    *securelink.Builder
	cache    cache.Cache[[]Quality]
	pool     tokens.Submitter
	group    singleflight.Group
}

// NewService creates a Service. Quality listings are kept in qualities.
func NewService(resolver Resolver, issuer Issuer, links *securelink.Builder, qualities cache.Cache[[]Quality], pool tokens.Submitter) *Service {
	return &Service{
		resolver: resolver,
		tokens:   issuer,
		links:    links,
		cache:    qualities,
		pool:     pool,
	}
}

// StreamLinks issues a fresh token for every quality of itemID and picks the
// one matching quality, or the highest resolution when nothing matches.
func (s *Service) StreamLinks(ctx context.Context, itemID, quality string) (*StreamInfo, error) {
	item, err := s.resolver.Lookup(ctx, itemID)
	if err != nil {
		return nil, err
	}

	qualities, err := s.qualities(ctx, itemID)
	if err != nil {
		return nil, err
	}

	info := &StreamInfo{
		Title:     item.Title,
		Filename:  item.Title + ".mp4",
		Qualities: make([]Link, 0, len(qualities)),
	}

	if len(qualities) == 0 {
		q, err := s.resolver.Resolve(ctx, itemID, quality)
		if err != nil {
			return nil, err
		}
		info.Quality = "Auto"
		info.URL = s.links.Build(s.tokens.Issue(q.URL), item.Title, info.Quality)
		return info, nil
	}

	sorted := append([]Quality(nil), qualities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Resolution > sorted[j].Resolution
	})

	selected := -1
	for i, q := range sorted {
		label := q.Label()
		info.Qualities = append(info.Qualities, Link{
			Label:      label,
			URL:        s.links.Build(s.tokens.Issue(q.URL), item.Title, label),
			Resolution: q.Resolution,
			Size:       q.Size,
		})
		if selected < 0 && q.Matches(quality) {
			selected = i
		}
	}
	if selected < 0 {
		selected = 0
	}

	info.URL = info.Qualities[selected].URL
	info.Quality = info.Qualities[selected].Label
	return info, nil
}

// Search finds items by title when the resolver supports it.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	searcher, ok := s.resolver.(Searcher)
	if !ok {
		return nil, nil
	}
	return searcher.Search(ctx, query, limit)
}

// qualities returns the cached listing for itemID, collapsing concurrent
// misses into one resolver call.
func (s *Service) qualities(ctx context.Context, itemID string) ([]Quality, error) {
	key := "qualities:" + itemID

	if cached, ok := s.cache.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	v, err, shared := s.group.Do(key, func() (any, error) {
		listing, err := s.resolver.ListQualities(ctx, itemID)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, listing)
		return listing, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("{catalog/service - qualities} Shared listing fetch for %s", itemID)
	}
	return v.([]Quality), nil
}

// Warmup prefetches quality listings for ids on the worker pool and waits for
// all of them. Failures are logged, not returned.
func (s *Service) Warmup(ctx context.Context, ids []string) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		warmed int
	)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if _, err := s.qualities(ctx, id); err != nil {
				logger.Warn("{catalog/service - Warmup} Failed to warm %s: %v", id, err)
				return
			}
			mu.Lock()
			warmed++
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			logger.Warn("{catalog/service - Warmup} Failed to submit %s: %v", id, err)
		}
	}

	wg.Wait()
	logger.Info("{catalog/service - Warmup} Warmed %d/%d catalog items", warmed, len(ids))
	return warmed
}
