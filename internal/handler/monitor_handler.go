package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/unimath/placement-backend/internal/service"
	ws "github.com/unimath/placement-backend/internal/websocket"
)

// monitorPushInterval is how often active-session summaries are pushed to
// connected monitors.
const monitorPushInterval = 2 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow-list permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// MonitorHandler streams active exam session summaries to admin clients.
type MonitorHandler struct {
	placementService *service.PlacementService
	log              zerolog.Logger
	upgrader         websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(placementService *service.PlacementService, log zerolog.Logger, allowedOrigins []string) *MonitorHandler {
	return &MonitorHandler{
		placementService: placementService,
		log:              log.With().Str("component", "monitor_handler").Logger(),
		upgrader:         buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/admin/sessions/stream
// Upgrades to a WebSocket that pushes active-session summaries every few
// seconds; clients may also send "refresh" for an immediate push.
func (h *MonitorHandler) SessionStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Info().Msg("Monitor connected")

	// Reader goroutine: pings and refresh requests.
	refresh := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Warn().Err(err).Msg("Unexpected monitor close")
				}
				return
			}

			switch msg.Action {
			case ws.ActionPing:
				ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			case ws.ActionRefresh:
				select {
				case refresh <- struct{}{}:
				default:
				}
			default:
				ws.WriteError(conn, "unknown action: "+string(msg.Action))
			}
		}
	}()

	ticker := time.NewTicker(monitorPushInterval)
	defer ticker.Stop()

	for {
		if err := ws.WriteTyped(conn, ws.SessionsResponse{
			Event:    ws.EventSessions,
			Sessions: h.placementService.ActiveSessions(),
		}); err != nil {
			h.log.Debug().Err(err).Msg("Monitor write failed, closing")
			return
		}

		select {
		case <-done:
			h.log.Info().Msg("Monitor disconnected")
			return
		case <-refresh:
		case <-ticker.C:
		}
	}
}
