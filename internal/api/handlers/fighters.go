package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/arena"
	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/content"
	"github.com/rawlclub/backend/internal/matchmaker"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/registry"
	"github.com/rawlclub/backend/internal/worker"
)

// Model blobs above this are refused at intake.
const maxModelBytes = 256 << 20

// SubmitFighter runs the intake pipeline: record the fighter as validating,
// probe the model blob, then either reject it or flip it to calibrating and
// queue its calibration matches on the cal tier.
func SubmitFighter(reg *registry.Registry, store content.Store, jobs *queue.Emulation, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Owner     string `json:"owner" binding:"required"`
			GameID    string `json:"game_id" binding:"required"`
			Character string `json:"character" binding:"required"`
			ModelRef  string `json:"model_ref" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "owner, game_id, character and model_ref required"})
			return
		}
		if _, err := arena.ForGame(req.GameID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "unsupported game",
				"supported": arena.SupportedGames(),
			})
			return
		}
		if !content.TrustedModelRef(req.ModelRef) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model_ref outside trusted prefixes"})
			return
		}

		ctx := c.Request.Context()
		f := &models.Fighter{
			ID:        uuid.New(),
			Owner:     strings.TrimSpace(req.Owner),
			GameID:    req.GameID,
			Character: req.Character,
			ModelRef:  req.ModelRef,
			Status:    models.FighterValidating,
			CreatedAt: time.Now().UTC(),
		}
		if err := reg.CreateFighter(ctx, f); err != nil {
			log.Printf("[API] create fighter: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		// Cheap existence and size probe before burning emulator time on it.
		size, err := store.Size(ctx, req.ModelRef)
		if err != nil || size == 0 || size > maxModelBytes {
			if err := reg.SetFighterStatus(ctx, f.ID, models.FighterRejected); err != nil {
				log.Printf("[API] reject fighter %s: %v", f.ID, err)
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"id":     f.ID,
				"status": models.FighterRejected,
				"error":  "model blob missing or oversized",
			})
			return
		}

		if err := reg.SetFighterStatus(ctx, f.ID, models.FighterCalibrating); err != nil {
			log.Printf("[API] calibrate fighter %s: %v", f.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		for _, job := range worker.CalibrationPlan(f.ID, f.GameID, f.ModelRef, cfg.DefaultMatchFormat, 1) {
			if err := jobs.EnqueueImmediate(ctx, job, queue.TierCalibration); err != nil {
				log.Printf("[API] enqueue calibration for %s: %v", f.ID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
		}

		log.Printf("[API] fighter %s accepted for calibration (game %s, %d bytes)", f.ID, f.GameID, size)
		c.JSON(http.StatusCreated, gin.H{"id": f.ID, "status": models.FighterCalibrating})
	}
}

// GetFighter returns one fighter's profile and rating.
func GetFighter(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fighter id"})
			return
		}
		f, err := reg.GetFighter(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "fighter not found"})
				return
			}
			log.Printf("[API] get fighter %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, f)
	}
}

// RequeueFighter puts a ready fighter back into its game's matchmaking
// queue at its current rating.
func RequeueFighter(reg *registry.Registry, mm *matchmaker.Matchmaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fighter id"})
			return
		}
		ctx := c.Request.Context()
		f, err := reg.GetFighter(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "fighter not found"})
			return
		}
		if f.Status != models.FighterReady {
			c.JSON(http.StatusConflict, gin.H{"error": "fighter is not ready", "status": f.Status})
			return
		}
		if err := mm.Enqueue(ctx, f.ID, f.GameID, f.Owner, f.Elo); err != nil {
			log.Printf("[API] requeue fighter %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"queued": true})
	}
}
