package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/server"
)

func newTestCache(st Storage, api ServerAPI, online bool) *CacheManager {
	return NewCacheManager(st, api, testOfflineConfig(), testMonitor(online))
}

func TestRefreshRequiresConnectivity(t *testing.T) {
	cache := newTestCache(newFakeStore(), &fakeAPI{}, false)

	err := cache.Refresh(context.Background())
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("Expected ErrOffline, got %v", err)
	}
}

func TestRefreshPaginatesAndStores(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{}
	api.searchFn = func(kind models.CachedItemKind, query string, page, pageSize int) ([]server.RemoteItem, bool, error) {
		if kind == models.CachedCustomer {
			return []server.RemoteItem{{ID: "c-1", Name: "Ada", Phone: "555-0100"}}, false, nil
		}
		// Two product pages
		switch page {
		case 1:
			return []server.RemoteItem{
				{ID: "p-1", SKU: "SKU-1", Name: "Coffee"},
				{ID: "p-2", SKU: "SKU-2", Name: "Tea"},
			}, true, nil
		case 2:
			return []server.RemoteItem{{ID: "p-3", SKU: "SKU-3", Name: "Cocoa"}}, false, nil
		default:
			t.Errorf("Unexpected page %d requested", page)
			return nil, false, nil
		}
	}
	cache := newTestCache(st, api, true)

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	stats, _ := st.Stats()
	if stats.CachedCount != 4 {
		t.Errorf("Expected 4 cached items, got %d", stats.CachedCount)
	}

	results, err := cache.Lookup(models.CachedProduct, "SKU-3")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(results) != 1 || results[0].Item.RemoteID != "p-3" {
		t.Errorf("Expected the second page persisted, got %+v", results)
	}
}

func TestLookupExcludesExpiredEntries(t *testing.T) {
	st := newFakeStore()
	cache := newTestCache(st, &fakeAPI{}, false)

	st.CacheItems([]models.CachedReferenceItem{
		{Kind: models.CachedProduct, RemoteID: "p-fresh", SKU: "FRESH", Name: "Fresh"},
		{Kind: models.CachedProduct, RemoteID: "p-stale", SKU: "STALE", Name: "Stale"},
	})

	// Age one entry past the TTL behind the eviction job's back
	st.mu.Lock()
	for i := range st.cache {
		if st.cache[i].RemoteID == "p-stale" {
			st.cache[i].CachedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)
		}
	}
	st.mu.Unlock()

	fresh, err := cache.Lookup(models.CachedProduct, "FRESH")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("Expected the fresh entry, got %d results", len(fresh))
	}
	if fresh[0].Source != SourceCache {
		t.Errorf("Expected cache-tagged result, got %s", fresh[0].Source)
	}

	stale, err := cache.Lookup(models.CachedProduct, "STALE")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("Expected the expired entry excluded, got %d results", len(stale))
	}
}

func TestSearchPrefersTheServer(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{}
	api.searchFn = func(kind models.CachedItemKind, query string, page, pageSize int) ([]server.RemoteItem, bool, error) {
		return []server.RemoteItem{{ID: "p-1", SKU: query, Name: "Live"}}, false, nil
	}
	cache := newTestCache(st, api, true)

	results, source, err := cache.Search(context.Background(), models.CachedProduct, "SKU-1")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if source != SourceServer {
		t.Errorf("Expected server source, got %s", source)
	}
	if len(results) != 1 || results[0].Source != SourceServer {
		t.Errorf("Expected a server-tagged result, got %+v", results)
	}
}

func TestSearchFallsBackToCacheOnNetworkFailure(t *testing.T) {
	st := newFakeStore()
	st.CacheItems([]models.CachedReferenceItem{
		{Kind: models.CachedProduct, RemoteID: "p-1", SKU: "SKU-1", Name: "Cached Coffee"},
	})

	api := &fakeAPI{}
	api.searchFn = func(kind models.CachedItemKind, query string, page, pageSize int) ([]server.RemoteItem, bool, error) {
		return nil, false, &server.NetworkError{Op: "search", Err: fmt.Errorf("timeout")}
	}
	cache := newTestCache(st, api, true)

	results, source, err := cache.Search(context.Background(), models.CachedProduct, "SKU-1")
	if err != nil {
		t.Fatalf("Expected cache fallback, got error: %v", err)
	}
	if source != SourceCache {
		t.Errorf("Expected cache source after network failure, got %s", source)
	}
	if len(results) != 1 || results[0].Item.Name != "Cached Coffee" {
		t.Errorf("Expected the cached record, got %+v", results)
	}
}

func TestSearchOfflineMissReturnsNothing(t *testing.T) {
	cache := newTestCache(newFakeStore(), &fakeAPI{}, false)

	results, source, err := cache.Search(context.Background(), models.CachedCustomer, "nobody")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if source != SourceCache {
		t.Errorf("Expected cache source while offline, got %s", source)
	}
	if len(results) != 0 {
		t.Errorf("Expected an empty result, got %d", len(results))
	}
}
