package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/ultrathink/internal/events"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// heartbeatInterval keeps proxies from closing idle streams.
var heartbeatInterval = 30 * time.Second

// handleEvents streams progress events as Server-Sent Events:
//
//	event: iteration
//	data: {"kind":"iteration","request_id":"...","iteration":2,...}
//
// With a request_id path parameter the stream ends after that request's
// completed event; otherwise it runs until the client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	requestID := c.Param("request_id")

	msgChan := make(chan *nats.Msg, 64)
	sub, err := s.events.ChanSubscribe(requestID, msgChan)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "events_unavailable", Message: err.Error()})
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			ev, ok := events.Decode(msg)
			if !ok {
				continue
			}
			fmt.Fprintf(c.Response(), "event: %s\n", ev.Kind)
			fmt.Fprintf(c.Response(), "data: %s\n\n", ev.Raw)
			c.Response().Flush()

			if requestID != "" && ev.Kind == orchestrator.EventCompleted {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
