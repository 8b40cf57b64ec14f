package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/registry"
)

const maxListLimit = 100

// ListMatches returns recent matches, optionally filtered by status.
func ListMatches(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")
		switch status {
		case "", models.MatchOpen, models.MatchLocked, models.MatchResolved, models.MatchCancelled:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}

		limit := 20
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxListLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1-100"})
				return
			}
			limit = n
		}

		matches, err := reg.ListMatches(c.Request.Context(), status, limit)
		if err != nil {
			log.Printf("[API] list matches: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	}
}

// GetMatch returns one match with its stored round history and artifacts.
func GetMatch(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		m, err := reg.GetMatch(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
				return
			}
			log.Printf("[API] get match %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// GetOdds serves the latest odds snapshot published by the event listener.
// The key has a short TTL, so a miss just means no recent bet activity.
func GetOdds(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		payload, err := rdb.Get(c.Request.Context(), "odds:"+ledger.MatchHex(id)).Bytes()
		if err == redis.Nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no odds published"})
			return
		}
		if err != nil {
			log.Printf("[API] get odds %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Data(http.StatusOK, "application/json", payload)
	}
}

// matchIDParam parses the :id route segment, writing the error response on
// failure.
func matchIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return uuid.Nil, false
	}
	return id, true
}
