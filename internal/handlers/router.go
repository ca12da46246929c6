package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tillpoint/posgo/internal/config"
	"github.com/tillpoint/posgo/internal/store"
	"github.com/tillpoint/posgo/internal/sync"
	"github.com/tillpoint/posgo/internal/websocket"
)

// Router wraps the mux router and the terminal components
type Router struct {
	*mux.Router

	cfg         *config.Config
	store       *store.Store
	interceptor *sync.Interceptor
	engine      *sync.Engine
	conflicts   *sync.ConflictManager
	cache       *sync.CacheManager
	reporter    *sync.StatusReporter
	monitor     *sync.Monitor
	hub         *websocket.Hub
}

// Deps bundle the components the HTTP surface exposes
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Interceptor *sync.Interceptor
	Engine      *sync.Engine
	Conflicts   *sync.ConflictManager
	Cache       *sync.CacheManager
	Reporter    *sync.StatusReporter
	Monitor     *sync.Monitor
	Hub         *websocket.Hub
}

// NewRouter creates the terminal's local HTTP router
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router:      mux.NewRouter(),
		cfg:         deps.Config,
		store:       deps.Store,
		interceptor: deps.Interceptor,
		engine:      deps.Engine,
		conflicts:   deps.Conflicts,
		cache:       deps.Cache,
		reporter:    deps.Reporter,
		monitor:     deps.Monitor,
		hub:         deps.Hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	// Sale routes
	api.HandleFunc("/sales", r.createSale).Methods("POST")
	api.HandleFunc("/sales/{id}/receipt", r.getReceipt).Methods("GET")
	api.HandleFunc("/sales/{id}/discard", r.discardSale).Methods("POST")

	// Sync routes
	api.HandleFunc("/sync/now", r.syncNow).Methods("POST")
	api.HandleFunc("/sync/recheck", r.recheckConnectivity).Methods("POST")
	api.HandleFunc("/sync/log/{id}", r.getSyncLog).Methods("GET")

	// Conflict routes
	api.HandleFunc("/conflicts", r.listConflicts).Methods("GET")
	api.HandleFunc("/conflicts/{id}/resolve", r.resolveConflict).Methods("POST")

	// Reference lookup routes
	api.HandleFunc("/products/search", r.searchProducts).Methods("GET")
	api.HandleFunc("/customers/search", r.searchCustomers).Methods("GET")
	api.HandleFunc("/cache/refresh", r.refreshCache).Methods("POST")

	// Status push channel for the UI
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(r.hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the terminal API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"terminal": r.cfg.TerminalID,
	})
}

// getStatus returns the aggregated terminal status
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	snapshot, err := r.reporter.Snapshot()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON decodes a request body into dst
func decodeJSON(req *http.Request, dst interface{}) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(dst)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
