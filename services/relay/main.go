package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/storage"
	filestorage "github.com/chatrelay/internal/storage/file"
	pgstorage "github.com/chatrelay/internal/storage/postgres"
	"github.com/chatrelay/internal/store"
	"github.com/chatrelay/internal/ws"
)

func main() {
	logger.SetPrefix("relay")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat relay")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	snap := openSnapshotter(cfg)
	defer func() {
		if err := snap.Close(); err != nil {
			logger.Errorf("snapshotter close: %v", err)
		}
	}()

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.New(loadCtx, snap)
	loadCancel()
	if err != nil {
		logger.Errorf("store init: %v", err)
		os.Exit(1)
	}
	logger.Infof("store loaded, %d messages", len(st.All()))

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(st, cfg.MaxWSConnections, cfg.WSSendBufferSize, int64(cfg.WSMaxMessageSize))

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	// Snapshot scheduler: the store holds no timers; persistence cadence
	// lives out here next to the rest of the process lifecycle.
	schedCtx, schedCancel := context.WithCancel(context.Background())
	var schedWg sync.WaitGroup
	schedWg.Add(1)
	go func() {
		defer schedWg.Done()
		ticker := time.NewTicker(cfg.Snapshot.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-schedCtx.Done():
				return
			case <-ticker.C:
				flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := st.Flush(flushCtx); err != nil {
					logger.Errorf("scheduled flush: %v", err)
				}
				cancel()
			}
		}
	}()

	msgH := handler.NewMessageHandler(st)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket traffic — otherwise the ResponseWriter no
	// longer implements http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.CORSAllowedOrigins},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", handler.Health)
	r.Get("/messages", msgH.GetMessages)
	r.Get("/chat", wsH.ServeWS)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("relay listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	schedCancel()
	schedWg.Wait()

	// Final synchronous flush so a clean shutdown never loses state.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := st.Flush(flushCtx); err != nil {
		logger.Errorf("final flush: %v", err)
	}
	flushCancel()
	srvWg.Wait()
	logger.Info("relay stopped")
}

// openSnapshotter picks the persistence backend: postgres when DATABASE_URL
// is set, redis when REDIS_URL is set, the JSON file otherwise.
func openSnapshotter(cfg *config.Config) storage.Snapshotter {
	switch {
	case cfg.Snapshot.PgURL != "":
		poolCfg, err := pgxpool.ParseConfig(cfg.Snapshot.PgURL)
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
		client, err := pgstorage.New(context.Background(), pool)
		if err != nil {
			logger.Errorf("postgres snapshotter: %v", err)
			os.Exit(1)
		}
		logger.Info("snapshots: postgres")
		return client
	case cfg.Snapshot.RedisURL != "":
		client := startup.ConnectRedisWithRetry(cfg.Snapshot.RedisURL, 60*time.Second)
		logger.Info("snapshots: redis")
		return client
	default:
		logger.Infof("snapshots: file %s", cfg.Snapshot.Path)
		return filestorage.New(cfg.Snapshot.Path)
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatrelay"
		password = "chatrelay_secret"
		database = "chatrelay"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Snapshot.PgURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
