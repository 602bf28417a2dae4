// Package pricecache keeps a bounded, TTL'd map of last known USD
// prices over an injected price source. Concurrent refreshes for one
// symbol are coalesced into a single in-flight fetch; expired entries
// still serve as labeled stale fallbacks when the source is down.
package pricecache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/holdwatch/holdwatch/internal/domain"
)

// Source fetches a spot USD price for a symbol. Implementations do the
// network work; the cache never holds a lock across a fetch.
type Source interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Config struct {
	MaxEntries     int
	TTL            time.Duration
	RefreshTimeout time.Duration
}

const (
	defaultMaxEntries     = 512
	defaultTTL            = time.Minute
	defaultRefreshTimeout = 10 * time.Second
)

type cacheEntry struct {
	price     decimal.Decimal
	fetchedAt time.Time
	elem      *list.Element
}

// Cache is safe for concurrent use. Entries past the TTL are invalid
// for direct use and trigger a refresh; the least-recently-used entry
// is evicted when the bound is exceeded, independent of TTL.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	src     Source
	entries map[string]*cacheEntry
	order   *list.List // front = most recently used

	group singleflight.Group

	// now is swappable in tests.
	now func() time.Time
}

func New(src Source, cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	return &Cache{
		cfg:     cfg,
		src:     src,
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns a fresh price, refreshing through the source when the
// cached value is missing or expired. If the refresh fails but an
// expired value exists, that value is returned tagged stale; with no
// value at all the error wraps ErrPriceUnavailable.
func (c *Cache) Get(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.Lock()
	if e, ok := c.entries[symbol]; ok && c.now().Sub(e.fetchedAt) <= c.cfg.TTL {
		c.order.MoveToFront(e.elem)
		price := e.price
		c.mu.Unlock()
		return domain.PriceQuote{PriceUSD: price}, nil
	}
	c.mu.Unlock()

	price, err := c.Refresh(ctx, symbol)
	if err == nil {
		return domain.PriceQuote{PriceUSD: price}, nil
	}
	if errors.Is(err, domain.ErrContention) {
		return domain.PriceQuote{}, err
	}

	// degrade to last known value, labeled stale
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[symbol]; ok {
		c.order.MoveToFront(e.elem)
		return domain.PriceQuote{PriceUSD: e.price, Stale: true}, nil
	}

	return domain.PriceQuote{}, errors.Wrapf(domain.ErrPriceUnavailable, "%s: %v", symbol, err)
}

// Refresh forces a fetch for symbol. Concurrent callers share one
// in-flight fetch; each caller's wait is bounded by RefreshTimeout and
// fails with ErrContention rather than blocking.
func (c *Cache) Refresh(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	ch := c.group.DoChan(symbol, func() (interface{}, error) {
		// detached from any single caller so one cancellation does not
		// kill the shared flight
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
		defer cancel()

		price, err := c.src.FetchPrice(fetchCtx, symbol)
		if err != nil {
			return nil, err
		}

		c.put(symbol, price)
		return price, nil
	})

	timer := time.NewTimer(c.cfg.RefreshTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return decimal.Decimal{}, errors.Wrapf(res.Err, "refresh %s", symbol)
		}
		return res.Val.(decimal.Decimal), nil
	case <-ctx.Done():
		return decimal.Decimal{}, errors.Wrapf(domain.ErrContention, "refresh wait for %s canceled: %v", symbol, ctx.Err())
	case <-timer.C:
		return decimal.Decimal{}, errors.Wrapf(domain.ErrContention, "refresh wait for %s exceeded %s", symbol, c.cfg.RefreshTimeout)
	}
}

// SetHint seeds a last-known price without any network call. The hint
// is stored already expired, so it never masks a fresh fetch and only
// serves as the stale fallback.
func (c *Cache) SetHint(symbol string, price decimal.Decimal) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[symbol]; ok {
		// never downgrade a real observation with a hint
		if c.now().Sub(e.fetchedAt) <= c.cfg.TTL {
			return
		}
		e.price = price
		c.order.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{price: price, fetchedAt: c.now().Add(-c.cfg.TTL - time.Nanosecond)}
	e.elem = c.order.PushFront(symbol)
	c.entries[symbol] = e
	c.evictLocked()
}

func (c *Cache) put(symbol string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[symbol]; ok {
		e.price = price
		e.fetchedAt = c.now()
		c.order.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{price: price, fetchedAt: c.now()}
	e.elem = c.order.PushFront(symbol)
	c.entries[symbol] = e
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for len(c.entries) > c.cfg.MaxEntries {
		back := c.order.Back()
		if back == nil {
			return
		}
		sym := back.Value.(string)
		c.order.Remove(back)
		delete(c.entries, sym)
	}
}

// Len reports the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
