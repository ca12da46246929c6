package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tillpoint/posgo/internal/config"
	"github.com/tillpoint/posgo/internal/database"
	"github.com/tillpoint/posgo/internal/handlers"
	"github.com/tillpoint/posgo/internal/server"
	"github.com/tillpoint/posgo/internal/store"
	"github.com/tillpoint/posgo/internal/sync"
	"github.com/tillpoint/posgo/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	offlineCfg := config.LoadOfflineConfig()

	// 2. Initialize local database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Central server client
	api := server.NewClient(
		cfg.Server.BaseURL,
		cfg.TerminalID,
		cfg.Server.TerminalSecret,
		time.Duration(cfg.Server.RequestTimeout)*time.Second,
	)

	// 5. Status push hub for the register UI
	hub := websocket.NewHub()
	go hub.Run()

	// --- OFFLINE SYNC INIT ---
	log.Println("🔄 Initializing Offline Sync Engine...")
	monitor := sync.NewMonitor(api,
		time.Duration(offlineCfg.ProbeInterval)*time.Second,
		offlineCfg.Debounce(),
	)
	monitor.Start()

	engine := sync.NewEngine(st, api, offlineCfg, monitor, hub)
	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start sync engine: %v", err)
	}
	log.Println("✅ Sync Engine: Started successfully")

	interceptor := sync.NewInterceptor(st, api, monitor, engine, hub)
	conflicts := sync.NewConflictManager(st, engine, hub)
	cache := sync.NewCacheManager(st, api, offlineCfg, monitor)
	reporter := sync.NewStatusReporter(st, monitor, engine)

	// 6. Set up HTTP router
	router := handlers.NewRouter(handlers.Deps{
		Config:      cfg,
		Store:       st,
		Interceptor: interceptor,
		Engine:      engine,
		Conflicts:   conflicts,
		Cache:       cache,
		Reporter:    reporter,
		Monitor:     monitor,
		Hub:         hub,
	})

	// 7. Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Terminal (%s) starting on port %s\n", cfg.TerminalID, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server first so no new sales arrive mid-drain
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP shutdown error: %v", err)
	}

	engine.Stop()
	monitor.Stop()

	if err := db.Close(); err != nil {
		log.Printf("⚠️ Database close error: %v", err)
	}

	log.Println("✅ Terminal stopped")
}
