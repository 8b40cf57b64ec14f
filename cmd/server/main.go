package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawlclub/backend/internal/api"
	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/content"
	"github.com/rawlclub/backend/internal/database"
	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/matchmaker"
	"github.com/rawlclub/backend/internal/migrations"
	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/reconciler"
	appredis "github.com/rawlclub/backend/internal/redis"
	"github.com/rawlclub/backend/internal/registry"
	"github.com/rawlclub/backend/internal/scheduler"
	"github.com/rawlclub/backend/internal/streams"
	"github.com/rawlclub/backend/internal/uploads"
	"github.com/rawlclub/backend/internal/watchdog"
	"github.com/rawlclub/backend/internal/ws"
)

func main() {
	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	rdb, err := appredis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	reg := registry.New(db)
	st := streams.NewRedis(rdb)
	jobs := queue.NewEmulation(rdb)
	mm := matchmaker.New(rdb)

	evm, err := ledger.NewEVM(cfg.ChainRPCURL, cfg.ContractAddress, cfg.OperatorKeyHex, cfg.ChainID, cfg.LedgerMaxRetries)
	if err != nil {
		log.Fatalf("Failed to connect to chain: %v", err)
	}

	fsStore, err := content.NewFS(cfg.ContentStoreRoot)
	if err != nil {
		log.Fatalf("Failed to open content store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	replica := 0
	if raw := os.Getenv("REPLICA_INDEX"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			replica = n
		}
	}

	// Event listener: the authoritative mirror of chain state. One per
	// deployment; it applies events for a match in block order.
	listener := ledger.NewListener(evm, rdb, ledger.NewIngest(reg, rdb), ledger.ListenerConfig{
		PollInterval:  time.Duration(cfg.ListenerPollSecs) * time.Second,
		MaxBlockRange: uint64(cfg.ListenerMaxRange),
		MaxCatchup:    uint64(cfg.ListenerMaxCatchup),
	})
	go listener.Run(ctx)

	sched := scheduler.New(reg, mm, jobs, evm, cfg)
	sched.Replica = replica
	go sched.Run(ctx)

	promoter := scheduler.NewPromoter(jobs, cfg)
	promoter.Replica = replica
	go promoter.Run(ctx)

	go watchdog.New(reg, st, evm, cfg).Run(ctx)
	go reconciler.New(reg, evm, cfg).Run(ctx)
	go reconciler.NewTimeout(reg, evm, cfg).Run(ctx)
	go uploads.NewRetrier(reg, fsStore).Run(ctx)

	wsrv := ws.NewServer(st, rdb)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.Deps{
		DB:      db,
		RDB:     rdb,
		Cfg:     cfg,
		Reg:     reg,
		Store:   fsStore,
		Streams: st,
		Jobs:    jobs,
		MM:      mm,
		WS:      wsrv,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Printf("Starting rawlclub server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
}
