package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/store"
	"github.com/tillpoint/posgo/internal/sync"
)

// searchProducts looks up products, live when online, cached otherwise
func (r *Router) searchProducts(w http.ResponseWriter, req *http.Request) {
	r.searchReference(w, req, models.CachedProduct)
}

// searchCustomers looks up customers, live when online, cached otherwise
func (r *Router) searchCustomers(w http.ResponseWriter, req *http.Request) {
	r.searchReference(w, req, models.CachedCustomer)
}

func (r *Router) searchReference(w http.ResponseWriter, req *http.Request, kind models.CachedItemKind) {
	query := strings.TrimSpace(req.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	results, source, err := r.cache.Search(req.Context(), kind, query)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			respondError(w, http.StatusInsufficientStorage, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"source":  source,
		"results": results,
	})
}

// refreshCache pulls the full reference dataset from the central server
func (r *Router) refreshCache(w http.ResponseWriter, req *http.Request) {
	if err := r.cache.Refresh(req.Context()); err != nil {
		if errors.Is(err, sync.ErrOffline) {
			respondError(w, http.StatusServiceUnavailable, "terminal is offline, cache refresh requires connectivity")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
