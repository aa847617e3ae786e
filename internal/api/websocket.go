package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// StreamUsage sends every snapshot to the client as a JSON text message
// until the client goes away or the service stops.
func StreamUsage(s *Service, w http.ResponseWriter, r *http.Request) {
	c, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Error("Failed to accept client")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "closing")

	// Clients only listen; reading in the background notices when they leave.
	ctx = c.CloseRead(ctx)

	ch, unsub := s.mon.Subscribe()
	defer unsub()

	remote := r.RemoteAddr
	log.WithField("remote", remote).Debug("Usage stream client connected")
	defer log.WithField("remote", remote).Debug("Usage stream client disconnected")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			c.Close(websocket.StatusGoingAway, "server stopping")
			return
		case snap, ok := <-ch:
			if !ok {
				c.Close(websocket.StatusGoingAway, "monitor stopped")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c, snap)
			cancel()
			if err != nil {
				log.WithField("remote", remote).WithError(err).Debug("Failed to write snapshot")
				return
			}
		}
	}
}
