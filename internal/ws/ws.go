// Package ws fans live match streams out to spectators: binary JPEG frames
// on the video socket, state records and odds updates on the data socket.
// Each connection tails the capped redis stream directly, so a subscriber
// that falls behind resumes at the live edge instead of backing up the hub.
package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/rawlclub/backend/internal/streams"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 512
	sendBuffer = 32

	blockTimeout = 5 * time.Second
	oddsInterval = 5 * time.Second
)

type Server struct {
	streams  *streams.Redis
	rdb      *redis.Client
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns int
}

func NewServer(st *streams.Redis, rdb *redis.Client) *Server {
	return &Server{
		streams: st,
		rdb:     rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin policy is enforced at the edge proxy
			},
		},
	}
}

// Conns reports active subscriber connections, for the health surface.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

type client struct {
	conn   *websocket.Conn
	send   chan payload
	cancel context.CancelFunc
}

type payload struct {
	data   []byte
	binary bool
}

// ServeVideo streams JPEG frames for a match until the end sentinel.
func (s *Server) ServeVideo(w http.ResponseWriter, r *http.Request, matchID uuid.UUID) {
	s.serve(w, r, streams.VideoKey(matchID), "", true)
}

// ServeData streams state records plus periodic odds updates.
func (s *Server) ServeData(w http.ResponseWriter, r *http.Request, matchID uuid.UUID, oddsKey string) {
	s.serve(w, r, streams.DataKey(matchID), oddsKey, false)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, stream, oddsKey string, binary bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	c := &client{conn: conn, send: make(chan payload, sendBuffer), cancel: cancel}

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conns--
		s.mu.Unlock()
	}()

	go c.writePump()
	go s.tail(ctx, c, stream, oddsKey, binary)
	c.readPump()
	cancel()
}

// readPump discards inbound frames; spectating is one-way. It returns when
// the peer goes away, which tears the tail down via the context.
func (c *client) readPump() {
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			kind := websocket.TextMessage
			if msg.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// tail follows the stream from the start of its rolling buffer. A full send
// channel means the client is slower than the stream; skip to the live edge
// rather than queue stale frames.
func (s *Server) tail(ctx context.Context, c *client, stream, oddsKey string, binary bool) {
	defer close(c.send)

	var oddsTick <-chan time.Time
	if oddsKey != "" {
		t := time.NewTicker(oddsInterval)
		defer t.Stop()
		oddsTick = t.C
	}

	after := "0"
	for {
		select {
		case <-ctx.Done():
			return
		case <-oddsTick:
			if data, err := s.rdb.Get(ctx, oddsKey).Bytes(); err == nil {
				s.push(ctx, c, payload{data: data}, stream, &after)
			}
			continue
		default:
		}

		entries, err := s.streams.ReadFrom(ctx, stream, after, blockTimeout)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[WS] read %s: %v", stream, err)
			}
			return
		}
		for _, e := range entries {
			after = e.ID
			if e.End {
				return
			}
			data := e.Jpeg
			if !binary {
				data = e.State
			}
			if len(data) == 0 {
				continue
			}
			if !s.push(ctx, c, payload{data: data, binary: binary}, stream, &after) {
				return
			}
		}
	}
}

// push delivers one payload, resuming at the live edge when the client's
// buffer is full. Returns false when the context is done.
func (s *Server) push(ctx context.Context, c *client, p payload, stream string, after *string) bool {
	select {
	case c.send <- p:
		return true
	case <-ctx.Done():
		return false
	default:
	}
	// Buffer full: drop everything queued behind and rejoin at the edge.
	if latest, err := s.streams.LatestID(ctx, stream); err == nil {
		*after = latest
	}
	select {
	case c.send <- p:
	default:
	}
	return true
}
