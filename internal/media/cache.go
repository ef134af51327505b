package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Asset is one fetched or decoded media frame.
type Asset struct {
	ContentType string
	Data        []byte
}

// ResolveURL is the cache key for ref. Placeholder images from picsum are
// requested at thumbnail width.
func ResolveURL(ref string) string {
	if IsDataURL(ref) || !strings.Contains(ref, "picsum.photos") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	q := u.Query()
	q.Set("w", "400")
	u.RawQuery = q.Encode()
	return u.String()
}

// Cache holds resolved assets keyed by resolved URL.
//
// It is owned by whoever renders media (the media handler) rather than
// being a process-wide global, and it is safe for concurrent use. Entries
// are evicted in insertion order once MaxEntries is exceeded.
type Cache struct {
	client     *http.Client
	logger     *slog.Logger
	MaxEntries int

	mu      sync.Mutex
	entries map[string]Asset
	order   []string
}

func NewCache(client *http.Client, logger *slog.Logger) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return &Cache{
		client:     client,
		logger:     logger,
		MaxEntries: 512,
		entries:    make(map[string]Asset),
	}
}

// Get returns the asset for ref, decoding data URLs and fetching remote
// URLs on a miss.
func (c *Cache) Get(ctx context.Context, ref string) (Asset, error) {
	key := ResolveURL(ref)

	c.mu.Lock()
	a, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return a, nil
	}

	a, err := c.load(ctx, key)
	if err != nil {
		return Asset{}, err
	}
	c.put(key, a)
	return a, nil
}

// Preload resolves every ref concurrently, at most four at a time. Failures
// are logged and do not stop the other loads.
func (c *Cache) Preload(ctx context.Context, refs []string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range refs {
		g.Go(func() error {
			if _, err := c.Get(ctx, ref); err != nil {
				c.logger.Warn("preloading media failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait() // the loaders never return an error
}

// Len is the number of cached assets.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) load(ctx context.Context, key string) (Asset, error) {
	if IsDataURL(key) {
		ct, data, err := DecodeDataURL(key)
		if err != nil {
			return Asset{}, err
		}
		return Asset{ContentType: ct, Data: data}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("media: building request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("media: fetching %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Asset{}, fmt.Errorf("media: fetching %s: status %d", key, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Asset{}, fmt.Errorf("media: reading %s: %w", key, err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return Asset{ContentType: ct, Data: data}, nil
}

func (c *Cache) put(key string, a Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = a
	c.order = append(c.order, key)
	for c.MaxEntries > 0 && len(c.order) > c.MaxEntries {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}
