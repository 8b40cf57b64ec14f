package handlers

import (
	"log"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/models"
	"github.com/rawlclub/backend/internal/registry"
)

// ListBets returns all wagers recorded against a match pool.
func ListBets(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		bets, err := reg.BetsForMatch(c.Request.Context(), id)
		if err != nil {
			log.Printf("[API] list bets %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"bets": bets})
	}
}

// PlaceBet records a pending wager announced by a client before its chain
// transaction lands. The row flips to confirmed when the listener sees the
// BetPlaced event; if the transaction never lands the reconciler expires it.
func PlaceBet(reg *registry.Registry, cfg *config.Config) gin.HandlerFunc {
	minBet, err := decimal.NewFromString(cfg.MinBetWei)
	if err != nil {
		log.Printf("[API] invalid MIN_BET_WEI %q: %v", cfg.MinBetWei, err)
		minBet = decimal.Zero
	}

	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		var req struct {
			Wallet string `json:"wallet" binding:"required"`
			Side   string `json:"side" binding:"required"`
			Amount string `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wallet, side and amount required"})
			return
		}
		if !common.IsHexAddress(req.Wallet) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
			return
		}
		wallet := common.HexToAddress(req.Wallet).Hex()
		if req.Side != "A" && req.Side != "B" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "side must be A or B"})
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil || !amount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		if amount.LessThan(minBet) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount below minimum bet"})
			return
		}

		ctx := c.Request.Context()
		m, err := reg.GetMatch(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
			return
		}
		if !m.HasPool {
			c.JSON(http.StatusConflict, gin.H{"error": "match has no betting pool"})
			return
		}
		if m.Status != models.MatchOpen {
			c.JSON(http.StatusConflict, gin.H{"error": "betting window closed"})
			return
		}

		if err := reg.InsertPendingBet(ctx, id, wallet, req.Side, amount); err != nil {
			log.Printf("[API] place bet %s/%s: %v", id, wallet, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": models.BetPending})
	}
}
