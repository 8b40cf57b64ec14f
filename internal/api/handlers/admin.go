package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/registry"
)

// CreateExhibition lets an operator stage a match outside matchmaking. No
// pool is opened on chain, so the job skips the betting window and goes
// straight onto the active tier.
func CreateExhibition(reg *registry.Registry, jobs *queue.Emulation, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FighterA string `json:"fighter_a" binding:"required"`
			FighterB string `json:"fighter_b" binding:"required"`
			Format   int    `json:"format"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fighter_a and fighter_b required"})
			return
		}
		idA, errA := uuid.Parse(req.FighterA)
		idB, errB := uuid.Parse(req.FighterB)
		if errA != nil || errB != nil || idA == idB {
			c.JSON(http.StatusBadRequest, gin.H{"error": "two distinct fighter ids required"})
			return
		}
		format := req.Format
		if format == 0 {
			format = cfg.DefaultMatchFormat
		}
		if format%2 == 0 || format < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be a positive odd number"})
			return
		}

		ctx := c.Request.Context()
		a, b, err := reg.GetFighterPair(ctx, idA, idB)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "fighter not found"})
			return
		}
		if a.Status != models.FighterReady || b.Status != models.FighterReady {
			c.JSON(http.StatusConflict, gin.H{"error": "both fighters must be ready"})
			return
		}
		if a.GameID != b.GameID {
			c.JSON(http.StatusConflict, gin.H{"error": "fighters play different games"})
			return
		}

		now := time.Now()
		m := &models.Match{
			ID:        uuid.New(),
			GameID:    a.GameID,
			Format:    format,
			FighterA:  a.ID,
			FighterB:  b.ID,
			Status:    models.MatchOpen,
			MatchType: models.MatchTypeExhibition,
			CreatedAt: now,
		}
		m.StartsAt.Time, m.StartsAt.Valid = now, true
		if err := reg.CreateMatch(ctx, m); err != nil {
			log.Printf("[API] create exhibition: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		job := &queue.Job{
			MatchID:   m.ID,
			GameID:    a.GameID,
			FighterA:  a.ID,
			FighterB:  b.ID,
			ModelRefA: a.ModelRef,
			ModelRefB: b.ModelRef,
			Format:    format,
		}
		if err := jobs.EnqueueImmediate(ctx, job, queue.TierRanked); err != nil {
			log.Printf("[API] enqueue exhibition %s: %v", m.ID, err)
			if mErr := reg.MarkCancelled(ctx, m.ID, models.CancelCreateFailed, time.Now()); mErr != nil {
				log.Printf("[API] match %s: mark cancelled: %v", m.ID, mErr)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		log.Printf("[API] exhibition %s staged: %s vs %s (%s, bo%d)", m.ID, a.ID, b.ID, a.GameID, format)
		c.JSON(http.StatusCreated, gin.H{"id": m.ID, "status": m.Status})
	}
}
