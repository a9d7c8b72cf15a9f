package trace

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Trace inspection is an operator tool, not a browser-facing API;
	// any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriberBufferSize is the channel buffer given to each websocket
// subscriber; matches the events bus default used for the teacher's
// own WebSocket consumers.
const subscriberBufferSize = 64

// Handler returns an http.Handler that upgrades requests to a
// websocket connection and streams bus events as JSON until the client
// disconnects or the bus drops the subscription.
func Handler(bus *Bus, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("trace websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events := bus.Subscribe(subscriberBufferSize)
		defer bus.Unsubscribe(events)

		for e := range events {
			if err := conn.WriteJSON(e); err != nil {
				logger.Debug("trace websocket write failed, closing", "error", err)
				return
			}
		}
	})
}

// RegisterRoutes mounts the trace websocket endpoint at /trace/ws.
func RegisterRoutes(mux *http.ServeMux, bus *Bus, logger *slog.Logger) {
	mux.Handle("/trace/ws", Handler(bus, logger))
}
