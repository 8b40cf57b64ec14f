package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/middleware"
)

const operatorTokenTTL = 12 * time.Hour

// OperatorLogin exchanges the shared operator key for a short-lived JWT.
// The key itself is never stored; only its bcrypt hash lives in config.
func OperatorLogin(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Key string `json:"key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key required"})
			return
		}
		if cfg.OperatorKeyBcrypt == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "operator access not configured"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.OperatorKeyBcrypt), []byte(req.Key)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid key"})
			return
		}

		now := time.Now()
		claims := middleware.OperatorClaims{
			Role: "operator",
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(operatorTokenTTL)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			log.Printf("[API] sign operator token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(operatorTokenTTL.Seconds()),
		})
	}
}
