package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oltscope/internal/adapter"
	"oltscope/internal/config"
	"oltscope/internal/handler"
	"oltscope/internal/repository/sqlite"
	"oltscope/internal/secrets"
	"oltscope/internal/service"
	"oltscope/internal/snmp"
	"oltscope/internal/stream"
	"oltscope/internal/watcher"
)

func main() {
	// Command line flags override the config file
	addr := flag.String("addr", "", "HTTP listen address")
	dbPath := flag.String("db", "", "SQLite database path")
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting oltscope server...")

	// Load configuration
	var (
		cfg     *config.Config
		cfgFile string
		err     error
	)
	if *configPath != "" {
		cfg, cfgFile, err = config.LoadFromPath(*configPath)
	} else {
		cfg, cfgFile, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgFile != "" {
		log.Printf("Config loaded: %s", cfgFile)
	} else {
		log.Println("No config file found, using defaults")
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize SQLite repository
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()
	log.Printf("Database opened: %s", cfg.Database.Path)

	// Community sealing key, created on first run
	key, err := secrets.LoadOrCreateKey(cfg.Secrets.KeyPath)
	if err != nil {
		log.Fatalf("Failed to load sealing key: %v", err)
	}
	sealer := secrets.NewSealer(key)

	// Initialize event bus
	eventBus := service.NewEventBus()

	// Initialize SSE stream
	sse := stream.New()
	go sse.Run()

	// Connect event bus to SSE stream
	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	go func() {
		for event := range eventChan {
			sse.Broadcast(event)
		}
	}()

	// Initialize services
	querier := snmp.NewClient(cfg.Poll.PacketTimeout.Duration(), cfg.Poll.Retries)
	hubSvc := service.NewHubService(repo, querier, sealer, eventBus, cfg.Poll.Timeout.Duration())
	coordinator := service.NewCoordinator(repo, querier, sealer, eventBus,
		cfg.Poll.Interval.Duration(), cfg.Poll.Timeout.Duration(), cfg.Poll.Workers)
	sweeper := adapter.NewSweeper(querier, cfg.Sweep.Community, cfg.Sweep.Probes)

	// Background refresh loop
	coordCtx, coordCancel := context.WithCancel(context.Background())
	go coordinator.Run(coordCtx)

	// Hot-reload the poll interval when the config file changes
	if cfgFile != "" {
		cfgWatcher := watcher.New(cfgFile, func() {
			next, _, err := config.LoadFromPath(cfgFile)
			if err != nil {
				log.Printf("Config reload failed: %v", err)
				return
			}
			coordinator.SetInterval(next.Poll.Interval.Duration())
			log.Printf("Poll interval now %s", next.Poll.Interval.Duration())
		})
		go func() {
			if err := cfgWatcher.Watch(coordCtx); err != nil && err != context.Canceled {
				log.Printf("Config watcher stopped: %v", err)
			}
		}()
	}

	// Initialize HTTP handlers
	apiHandler := handler.New(hubSvc, coordinator)
	apiHandler.SetSweeper(sweeper)

	// Setup routes
	mux := http.NewServeMux()
	apiHandler.Register(mux)

	// SSE events endpoint
	mux.Handle("GET /events", sse)

	// Apply middleware
	finalHandler := handler.Chain(mux,
		handler.Recover,
		handler.CORS,
		handler.Logger,
	)

	// Create server
	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      finalHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop background refreshes
	coordCancel()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
