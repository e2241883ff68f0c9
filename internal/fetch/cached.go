package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long fetched repository content is reused.
const DefaultCacheTTL = 5 * time.Minute

// CachedFetcher wraps a RepoFetcher with a short-lived in-memory cache.
// Concurrent requests for the same repository share one fetch.
type CachedFetcher struct {
	inner   RepoFetcher
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	content *RepoContent
	expires time.Time
}

// CachedFetcherConfig holds configuration for the cached fetcher.
type CachedFetcherConfig struct {
	TTL time.Duration
	// Timeout bounds a shared fetch; zero uses DefaultTimeout.
	Timeout time.Duration
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// NewCachedFetcher creates a cached fetcher. A zero TTL uses DefaultCacheTTL.
func NewCachedFetcher(inner RepoFetcher, cfg CachedFetcherConfig) *CachedFetcher {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CachedFetcher{
		inner:   inner,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		now:     cfg.Now,
		entries: make(map[string]cacheEntry),
	}
}

// FetchRepoContent returns cached content when fresh, otherwise fetches it.
// Failures are not cached.
func (f *CachedFetcher) FetchRepoContent(ctx context.Context, repoURL string) (*RepoContent, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(owner + "/" + repo)

	if c, ok := f.lookup(key); ok {
		return c, nil
	}

	// The shared fetch outlives any single caller; each caller only stops
	// waiting when its own context ends.
	ch := f.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		c, err := f.inner.FetchRepoContent(fctx, repoURL)
		if err != nil {
			return nil, err
		}
		f.store(key, c)
		return c, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RepoContent), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// store caches content and drops every expired entry.
func (f *CachedFetcher) store(key string, c *RepoContent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for k, e := range f.entries {
		if !now.Before(e.expires) {
			delete(f.entries, k)
		}
	}
	f.entries[key] = cacheEntry{content: c, expires: now.Add(f.ttl)}
}

func (f *CachedFetcher) lookup(key string) (*RepoContent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	if !f.now().Before(e.expires) {
		delete(f.entries, key)
		return nil, false
	}
	return e.content, true
}

// Invalidate drops the cached content of a repository.
func (f *CachedFetcher) Invalidate(repoURL string) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return
	}
	f.mu.Lock()
	delete(f.entries, strings.ToLower(owner+"/"+repo))
	f.mu.Unlock()
}
