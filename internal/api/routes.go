package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/rawlclub/backend/internal/api/handlers"
	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/content"
	"github.com/rawlclub/backend/internal/matchmaker"
	"github.com/rawlclub/backend/internal/middleware"
	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/registry"
	"github.com/rawlclub/backend/internal/streams"
	"github.com/rawlclub/backend/internal/ws"
)

// Deps bundles what the handlers need. Everything here is built once in
// cmd/server and shared.
type Deps struct {
	DB      *sqlx.DB
	RDB     *redis.Client
	Cfg     *config.Config
	Reg     *registry.Registry
	Store   content.Store
	Streams *streams.Redis
	Jobs    *queue.Emulation
	MM      *matchmaker.Matchmaker
	WS      *ws.Server
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(middleware.CORSMiddleware(d.Cfg))
	router.Use(middleware.WebSocketCORSCheck(d.Cfg))

	if d.Cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
		log.Println("[DEV MODE] no-cache headers enabled for all routes")
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck(d.DB, d.RDB, d.Jobs, d.WS))

		matches := v1.Group("/matches")
		{
			matches.GET("", handlers.ListMatches(d.Reg))
			matches.GET("/:id", handlers.GetMatch(d.Reg))
			matches.GET("/:id/odds", handlers.GetOdds(d.RDB))
			matches.GET("/:id/hash", handlers.MatchHash(d.Store))
			matches.GET("/:id/bets", handlers.ListBets(d.Reg))
			matches.POST("/:id/bets",
				middleware.RateLimit(d.Streams, d.Cfg, "bets"),
				handlers.PlaceBet(d.Reg, d.Cfg))

			matches.GET("/:id/ws/video", handlers.MatchVideoWS(d.WS))
			matches.GET("/:id/ws/data", handlers.MatchDataWS(d.WS))
		}

		replays := v1.Group("/replays")
		{
			replays.GET("/:id/frames", handlers.ReplayFrames(d.Store))
			replays.GET("/:id/states", handlers.ReplayStates(d.Store))
		}

		fighters := v1.Group("/fighters")
		{
			fighters.POST("",
				middleware.RateLimit(d.Streams, d.Cfg, "fighters"),
				handlers.SubmitFighter(d.Reg, d.Store, d.Jobs, d.Cfg))
			fighters.GET("/:id", handlers.GetFighter(d.Reg))
		}

		v1.POST("/operator/login", handlers.OperatorLogin(d.Cfg))
		operator := v1.Group("/operator", middleware.RequireOperator(d.Cfg))
		{
			operator.POST("/matches", handlers.CreateExhibition(d.Reg, d.Jobs, d.Cfg))
			operator.POST("/fighters/:id/requeue", handlers.RequeueFighter(d.Reg, d.MM))
		}
	}
}
