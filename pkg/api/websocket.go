package api

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

// pingInterval keeps idle connections alive through proxies.
const pingInterval = 30 * time.Second

// handleEventStream upgrades to websocket and relays live pipeline events
// as JSON. An optional pipeline_id query filters to one pipeline.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("Websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	pipelineID := c.Query("pipeline_id")
	sub := s.orch.Subscribe(pipelineID)
	defer sub.Close()

	ctx := c.Request.Context()
	s.logger.Info("Event stream opened", "pipeline_id", pipelineID)

	// Reads are discarded; the client never sends application data, but
	// reading is required to process control frames.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				s.logger.Debug("Event stream write failed", "error", err)
				return
			}
		}
	}
}
