package handlers

import (
	"encoding/binary"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/content"
)

// A frames request may span at most this many frames.
const maxFrameBatch = 300

func replayVideoKey(id uuid.UUID) string  { return "replays/" + id.String() + ".mjpeg" }
func replayIndexKey(id uuid.UUID) string  { return "replays/" + id.String() + ".idx" }
func replayStatesKey(id uuid.UUID) string { return "replays/" + id.String() + ".json" }
func matchHashKey(id uuid.UUID) string    { return "hashes/" + id.String() + ".json" }

// ReplayFrames serves a frame range of a finished match's replay. The .idx
// sidecar holds one little-endian uint64 byte offset per frame, so a range
// request costs two small reads plus the frame bytes themselves.
func ReplayFrames(store content.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		from, to, ok := frameRangeParams(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		idxSize, err := store.Size(ctx, replayIndexKey(id))
		if err != nil {
			replayError(c, id, "index", err)
			return
		}
		frames := idxSize / 8
		if from >= frames {
			c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{
				"error":  "frame range out of bounds",
				"frames": frames,
			})
			return
		}
		if to >= frames {
			to = frames - 1
		}

		// Offsets for [from, to] plus the one past the end, when it exists,
		// to bound the last frame.
		offEnd := (to + 2) * 8
		if offEnd > idxSize {
			offEnd = idxSize
		}
		rawOffsets, err := store.GetRange(ctx, replayIndexKey(id), from*8, offEnd)
		if err != nil {
			replayError(c, id, "index", err)
			return
		}

		start := int64(binary.LittleEndian.Uint64(rawOffsets[:8]))
		var end int64
		if to == frames-1 {
			end, err = store.Size(ctx, replayVideoKey(id))
			if err != nil {
				replayError(c, id, "video", err)
				return
			}
		} else {
			last := len(rawOffsets) - 8
			end = int64(binary.LittleEndian.Uint64(rawOffsets[last:]))
		}

		data, err := store.GetRange(ctx, replayVideoKey(id), start, end)
		if err != nil {
			replayError(c, id, "video", err)
			return
		}
		c.Header("X-Frame-Count", strconv.FormatInt(to-from+1, 10))
		c.Data(http.StatusOK, "video/x-motion-jpeg", data)
	}
}

// ReplayStates serves the per-frame state samples recorded alongside the
// video.
func ReplayStates(store content.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		data, err := store.Get(c.Request.Context(), replayStatesKey(id))
		if err != nil {
			replayError(c, id, "states", err)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}

// MatchHash serves the canonical hash payload so anyone can re-verify the
// stored match_hash against the exact uploaded bytes.
func MatchHash(store content.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := matchIDParam(c)
		if !ok {
			return
		}
		data, err := store.Get(c.Request.Context(), matchHashKey(id))
		if err != nil {
			replayError(c, id, "hash", err)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}

func frameRangeParams(c *gin.Context) (from, to int64, ok bool) {
	var err error
	from = 0
	if raw := c.Query("from"); raw != "" {
		from, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || from < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
			return 0, 0, false
		}
	}
	to = from + maxFrameBatch - 1
	if raw := c.Query("to"); raw != "" {
		to, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || to < from {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
			return 0, 0, false
		}
	}
	if to-from+1 > maxFrameBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame range too large", "max": maxFrameBatch})
		return 0, 0, false
	}
	return from, to, true
}

func replayError(c *gin.Context, id uuid.UUID, part string, err error) {
	if errors.Is(err, content.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "replay not available"})
		return
	}
	log.Printf("[API] replay %s %s: %v", id, part, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
