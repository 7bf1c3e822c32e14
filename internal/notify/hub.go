package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
)

// Hub upgrades HTTP requests to WebSocket connections and streams each
// owner's bus events to them. The owner identity is taken from the
// authenticated request context; a connection can never subscribe to
// another owner's feed.
type Hub struct {
	bus    *Bus
	logger infra.Logger
}

// NewHub creates a hub over the given bus.
func NewHub(bus *Bus, logger infra.Logger) *Hub {
	return &Hub{bus: bus, logger: logger}
}

type envelope struct {
	EventType domain.EventType `json:"eventType"`
	Data      any              `json:"data"`
}

// ServeHTTP handles the WebSocket upgrade and runs the write pump until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.UserIDFromContext(r.Context())
	if ownerID == "" {
		http.Error(w, "missing user context", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn().Err(err).Msg("notify: websocket upgrade failed")
		return
	}

	sub := h.bus.Subscribe(ownerID)
	done := make(chan struct{})

	// Read side only watches for close and control frames.
	go func() {
		defer close(done)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			sub.Close()
			_ = conn.Close()
		}()
		for {
			select {
			case evt, ok := <-sub.Events():
				if !ok {
					return
				}
				payload, err := json.Marshal(envelope{EventType: evt.Type, Data: evt.Payload})
				if err != nil {
					h.logger.Error().Err(err).Msg("notify: encode event failed")
					continue
				}
				if err := wsutil.WriteServerText(conn, payload); err != nil {
					h.logger.Debug().Err(err).Str("owner_id", ownerID).Msg("notify: write failed, dropping connection")
					return
				}
			case <-done:
				return
			}
		}
	}()

	h.logger.Info().Str("owner_id", ownerID).Time("connected_at", time.Now().UTC()).Msg("notify: client connected")
}
