package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/ws"
)

// MatchVideoWS upgrades to the binary JPEG frame stream for a live match.
func MatchVideoWS(wsrv *ws.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		wsrv.ServeVideo(c.Writer, c.Request, id)
	}
}

// MatchDataWS upgrades to the state stream, interleaved with the latest
// published odds.
func MatchDataWS(wsrv *ws.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		wsrv.ServeData(c.Writer, c.Request, id, "odds:"+ledger.MatchHex(id))
	}
}
