// Package gateway exposes the combat event stream to websocket observers.
// It forwards event JSON untouched; rendering stays with the clients.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/emberhollow/gloomvale/internal/services/dm/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	subscriberBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway upgrades HTTP connections to websockets and streams bus events to
// each of them. A connection that stops draining falls behind its bus buffer
// and is disconnected rather than allowed to stall combat resolution.
type Gateway struct {
	bus    *eventbus.Bus
	logger logrus.FieldLogger
}

// New builds a gateway over the given bus. A nil logger falls back to the
// logrus default.
func New(bus *eventbus.Bus, logger logrus.FieldLogger) *Gateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gateway{bus: bus, logger: logger}
}

// Handler returns the http handler serving the event stream endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", g.serveEvents)
	return mux
}

// Serve runs the gateway HTTP server until the context is cancelled.
func (g *Gateway) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (g *Gateway) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sub := g.bus.Subscribe(subscriberBuffer)
	logger := g.logger.WithField("remote", conn.RemoteAddr().String())
	logger.Info("observer connected")

	go g.readPump(conn, sub.Cancel, logger)
	g.writePump(conn, sub, logger)
}

// readPump drains control frames and client messages. Observers send nothing
// meaningful; reading only detects disconnects and answers pings.
func (g *Gateway) readPump(conn *websocket.Conn, cancel func(), logger logrus.FieldLogger) {
	defer func() {
		cancel()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Debug("websocket read failed")
			}
			return
		}
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, sub *eventbus.Subscription, logger logrus.FieldLogger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		logger.Info("observer disconnected")
	}()

	for {
		select {
		case evt := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.WithError(err).Debug("websocket write failed")
				return
			}
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
