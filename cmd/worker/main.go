package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/queue"
	appredis "github.com/rawlclub/backend/internal/redis"
	"github.com/rawlclub/backend/internal/worker"
)

func main() {
	cfg := config.Load()

	// The pool re-execs this binary with the run-match argument and the job
	// payload on stdin; that mode runs exactly one match and exits.
	if len(os.Args) > 1 && os.Args[1] == worker.ChildMode {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := worker.RunChild(ctx, cfg, os.Stdin); err != nil {
			log.Printf("[POOL] child: %v", err)
			os.Exit(1)
		}
		return
	}

	rdb, err := appredis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := worker.NewPool(queue.NewEmulation(rdb), rdb, cfg)
	pool.Run(ctx)
}
