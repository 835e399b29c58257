// internal/handlers/search_live.go
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/datamarket-backend/internal/metrics"
	"github.com/javajoker/datamarket-backend/internal/search"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

// LiveSearchMessage is what a client sends over the socket. Action is
// "update" (the default) or "refresh".
type LiveSearchMessage struct {
	Action  string         `json:"action"`
	Filters search.Filters `json:"filters"`
}

type LiveSearchHandler struct {
	snapshot search.SnapshotFunc
	clock    clock.Clock
	quiet    time.Duration
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewLiveSearchHandler(snapshot search.SnapshotFunc, clk clock.Clock, quiet time.Duration, allowedOrigins []string, m *metrics.Metrics) *LiveSearchHandler {
	return &LiveSearchHandler{
		snapshot: snapshot,
		clock:    clk,
		quiet:    quiet,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || lo.Contains(allowedOrigins, "*") || lo.Contains(allowedOrigins, origin)
			},
		},
	}
}

// GET /search/live
//
// Each text edit is debounced; other filter changes are answered at once.
// Only the newest evaluation is ever sent.
func (h *LiveSearchHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		logrus.WithError(err).Debug("Live search upgrade failed")
		return
	}
	defer conn.Close()

	h.metrics.SearchSessionOpened()
	defer h.metrics.SearchSessionClosed()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		// unblocks the read loop once a write fails
		<-ctx.Done()
		conn.Close()
	}()

	var writeMu sync.Mutex
	write := func(messageType int, v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if v == nil {
			return conn.WriteMessage(messageType, nil)
		}
		return conn.WriteJSON(v)
	}

	session := search.NewSession(ctx, h.clock, h.quiet, h.snapshot, func(res search.Result) {
		if err := write(websocket.TextMessage, res); err != nil {
			cancel()
		}
	})
	defer session.Close()

	go h.keepAlive(ctx, write)

	conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	session.Refresh()
	for {
		var msg LiveSearchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Debug("Live search connection closed")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch msg.Action {
		case "refresh":
			session.Refresh()
		default:
			session.Update(msg.Filters)
		}
	}
}

func (h *LiveSearchHandler) keepAlive(ctx context.Context, write func(int, interface{}) error) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
