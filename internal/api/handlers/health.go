package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/worker"
	"github.com/rawlclub/backend/internal/ws"
)

var startTime = time.Now()

const version = "1.0.0"

// HealthCheck reports server, store and worker-pool health in one shot so
// probes and dashboards need a single endpoint.
func HealthCheck(db *sqlx.DB, rdb *redis.Client, jobs *queue.Emulation, wsrv *ws.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		status := http.StatusOK

		dbOK := db.PingContext(ctx) == nil
		redisOK := rdb.Ping(ctx).Err() == nil
		if !dbOK || !redisOK {
			status = http.StatusServiceUnavailable
		}

		// The worker pool refreshes this key every 10s; absence means no
		// pool has been alive for at least its TTL.
		workerAlive := false
		if redisOK {
			n, err := rdb.Exists(ctx, worker.AliveKey).Result()
			workerAlive = err == nil && n > 0
		}

		body := gin.H{
			"status":       "ok",
			"service":      "rawlclub-api",
			"version":      version,
			"uptime":       time.Since(startTime).String(),
			"database":     dbOK,
			"redis":        redisOK,
			"worker_alive": workerAlive,
			"ws_conns":     wsrv.Conns(),
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}

		if redisOK {
			if ranked, cal, deferred, err := jobs.Depths(ctx); err == nil {
				body["queue"] = gin.H{
					"ranked":   ranked,
					"cal":      cal,
					"deferred": deferred,
				}
			}
		}

		c.JSON(status, body)
	}
}
