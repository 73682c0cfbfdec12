package catalog

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of cached searches and pages.
const DefaultCacheSize = 512

// CachedClient memoizes successful lookups. Cinemas of one batch share
// many titles, so a title is searched once per process.
type CachedClient struct {
	next    Searcher
	search  *lru.Cache[string, []Movie]
	popular *lru.Cache[int, []Movie]
}

var _ Searcher = (*CachedClient)(nil)

// NewCachedClient wraps next with LRU caches of the given size.
func NewCachedClient(next Searcher, size int) (*CachedClient, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	search, err := lru.New[string, []Movie](size)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}
	popular, err := lru.New[int, []Movie](size)
	if err != nil {
		return nil, fmt.Errorf("create popular cache: %w", err)
	}
	return &CachedClient{next: next, search: search, popular: popular}, nil
}

// SearchByTitle returns a cached result when the normalized title was
// searched before.
func (c *CachedClient) SearchByTitle(ctx context.Context, title string) ([]Movie, error) {
	key := strings.ToLower(strings.Join(strings.Fields(title), " "))
	if movies, ok := c.search.Get(key); ok {
		return movies, nil
	}
	movies, err := c.next.SearchByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	c.search.Add(key, movies)
	return movies, nil
}

// ListPopular returns a cached page when available.
func (c *CachedClient) ListPopular(ctx context.Context, page int) ([]Movie, error) {
	if movies, ok := c.popular.Get(page); ok {
		return movies, nil
	}
	movies, err := c.next.ListPopular(ctx, page)
	if err != nil {
		return nil, err
	}
	c.popular.Add(page, movies)
	return movies, nil
}

// Purge drops every cached entry.
func (c *CachedClient) Purge() {
	c.search.Purge()
	c.popular.Purge()
}
