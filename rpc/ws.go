package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"jctledger/core/events"
	"jctledger/core/types"
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsSubscribeBuffer = 64
)

// handleEventsWS streams schedule events to a websocket client. The optional
// "types" and "linearId" query parameters restrict the stream to comma
// separated lists of event types and schedules.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := events.ParseFilter(query.Get("types"), query.Get("linearId"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Clients never send; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter events.Filter) error {
	updates, cancel := s.hub.SubscribeFiltered(wsSubscribeBuffer, filter)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.ScheduleEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
