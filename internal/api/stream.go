package api

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldpin/internal/annotations"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/model"
)

const (
	streamBuffer     = 64
	streamPingPeriod = 30 * time.Second
	streamWriteWait  = 10 * time.Second
)

// StreamEvent is one annotation change sent on the stream. The first message
// of a connection holds the current snapshot as "added" events.
type StreamEvent struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Annotation *model.Annotation `json:"annotation,omitempty"`
}

func streamBatch(events []annotations.Event) []StreamEvent {
	out := make([]StreamEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, StreamEvent{Type: string(ev.Type), ID: ev.ID, Annotation: ev.Entity})
	}
	return out
}

// streamAnnotations upgrades to a websocket and forwards the change feed of a
// container. A client that cannot keep up is disconnected; it reconnects to
// receive a fresh snapshot.
func (s *Server) streamAnnotations(c echo.Context) error {
	container := c.Param("container")
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		s.log.Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}
	s.streams.Add(1)
	defer s.streams.Done()
	defer ws.Close() //nolint:errcheck // connection is done

	log := s.log.With(logger.String("container", container), logger.String("remote", ws.RemoteAddr().String()))
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	batches := make(chan []StreamEvent, streamBuffer)
	store := annotations.New(s.docs, nil, nil, s.log, s.syncMetrics)
	if err := store.Subscribe(ctx, container, func(events []annotations.Event) {
		select {
		case batches <- streamBatch(events):
		default:
			log.Warn("stream client too slow, disconnecting")
			cancel()
		}
	}); err != nil {
		log.Warn("stream subscription failed", logger.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(streamWriteWait))
		return nil
	}
	defer store.Unsubscribe()
	log.Debug("stream opened")

	// reads only detect the peer going away
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(streamWriteWait))
			log.Debug("stream closed")
			return nil
		case batch := <-batches:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(batch); err != nil {
				log.Debug("stream write failed", logger.Error(err))
				return nil
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return nil
			}
		}
	}
}
