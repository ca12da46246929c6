package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tillpoint/posgo/internal/config"
	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/server"
)

// ErrOffline is returned when an online-only operation is attempted offline
var ErrOffline = errors.New("terminal is offline")

// LookupResult is one match from a reference lookup, tagged with its origin
// so callers can tell a stale cache hit from an authoritative server answer.
type LookupResult struct {
	Item   models.CachedReferenceItem `json:"item"`
	Source ResultSource               `json:"source"`
}

// CacheManager keeps best-effort snapshots of products and customers in the
// local store so offline lookups can succeed. Cache hits are never proof of
// current availability; sync always re-checks server-side.
type CacheManager struct {
	store   Storage
	api     ServerAPI
	cfg     *config.OfflineConfig
	monitor *Monitor
}

// NewCacheManager creates a reference data cache manager
func NewCacheManager(st Storage, api ServerAPI, cfg *config.OfflineConfig, monitor *Monitor) *CacheManager {
	return &CacheManager{
		store:   st,
		api:     api,
		cfg:     cfg,
		monitor: monitor,
	}
}

// Refresh fetches bounded snapshots of products and customers from the
// server and writes them to the local store. Only runs while online.
func (c *CacheManager) Refresh(ctx context.Context) error {
	if !c.monitor.State().Online {
		return ErrOffline
	}

	products, err := c.fetchAll(ctx, models.CachedProduct)
	if err != nil {
		return fmt.Errorf("product refresh failed: %w", err)
	}
	customers, err := c.fetchAll(ctx, models.CachedCustomer)
	if err != nil {
		return fmt.Errorf("customer refresh failed: %w", err)
	}

	if err := c.store.CacheItems(append(products, customers...)); err != nil {
		return err
	}

	log.Printf("📦 Reference cache refreshed: %d products, %d customers",
		len(products), len(customers))

	if _, err := c.EvictExpired(); err != nil {
		log.Printf("⚠️ Cache eviction failed: %v", err)
	}
	return nil
}

// fetchAll pulls up to CacheMaxPages pages of one entity kind
func (c *CacheManager) fetchAll(ctx context.Context, kind models.CachedItemKind) ([]models.CachedReferenceItem, error) {
	var out []models.CachedReferenceItem

	for page := 1; page <= c.cfg.CacheMaxPages; page++ {
		var items []server.RemoteItem
		var hasMore bool
		var err error

		switch kind {
		case models.CachedProduct:
			items, hasMore, err = c.api.SearchProducts(ctx, "", page, c.cfg.CachePageSize)
		case models.CachedCustomer:
			items, hasMore, err = c.api.SearchCustomers(ctx, "", page, c.cfg.CachePageSize)
		}
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			out = append(out, models.CachedReferenceItem{
				Kind:     kind,
				RemoteID: item.ID,
				SKU:      item.SKU,
				Barcode:  item.Barcode,
				Name:     item.Name,
				Phone:    item.Phone,
				Data:     item.Data,
			})
		}
		if !hasMore {
			break
		}
	}
	return out, nil
}

// Lookup searches the local cache. Entries older than the TTL are excluded,
// even if eviction has not caught up with them yet.
func (c *CacheManager) Lookup(kind models.CachedItemKind, query string) ([]LookupResult, error) {
	items, err := c.store.SearchCache(kind, query, c.cfg.CacheMaxResults)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-c.cfg.CacheTTL())
	results := make([]LookupResult, 0, len(items))
	for _, item := range items {
		if item.CachedAt.Before(cutoff) {
			continue
		}
		results = append(results, LookupResult{Item: item, Source: SourceCache})
	}
	return results, nil
}

// Search answers a read request: server first, cache fallback. A read that
// misses everywhere returns no results — never fabricated data.
func (c *CacheManager) Search(ctx context.Context, kind models.CachedItemKind, query string) ([]LookupResult, ResultSource, error) {
	if c.monitor.State().Online {
		var items []server.RemoteItem
		var err error
		switch kind {
		case models.CachedProduct:
			items, _, err = c.api.SearchProducts(ctx, query, 1, c.cfg.CacheMaxResults)
		case models.CachedCustomer:
			items, _, err = c.api.SearchCustomers(ctx, query, 1, c.cfg.CacheMaxResults)
		}

		if err == nil {
			results := make([]LookupResult, 0, len(items))
			for _, item := range items {
				results = append(results, LookupResult{
					Item: models.CachedReferenceItem{
						Kind:     kind,
						RemoteID: item.ID,
						SKU:      item.SKU,
						Barcode:  item.Barcode,
						Name:     item.Name,
						Phone:    item.Phone,
						Data:     item.Data,
					},
					Source: SourceServer,
				})
			}
			return results, SourceServer, nil
		}

		var netErr *server.NetworkError
		if !errors.As(err, &netErr) {
			return nil, SourceServer, err
		}
		log.Printf("⚠️ Server search failed, falling back to cache: %v", err)
		c.monitor.Recheck()
	}

	results, err := c.Lookup(kind, query)
	if err != nil {
		return nil, SourceCache, err
	}
	return results, SourceCache, nil
}

// EvictExpired removes cache entries older than the TTL
func (c *CacheManager) EvictExpired() (int64, error) {
	return c.store.PurgeExpired(c.cfg.CacheTTL())
}
