package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Kubendra2004/HealthForesight/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsEventType maps a Redis channel to the event type pushed to clients.
func wsEventType(channel string) string {
	switch channel {
	case services.ChannelForecasts:
		return "forecast"
	case services.ChannelAlerts:
		return "capacity_alert"
	case services.ChannelLive:
		return "observation"
	}
	return "unknown"
}

// LiveWebSocket streams forecast, alert and observation events. The token travels as a
// query parameter because browsers cannot set headers on the upgrade request.
func LiveWebSocket(cache *services.CacheService, authService *services.AuthService, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token query parameter"})
			return
		}

		if _, err := authService.ValidateToken(tokenStr); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		if !cache.Available() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates unavailable"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		pubsub := cache.Subscribe(ctx, services.ChannelForecasts, services.ChannelAlerts, services.ChannelLive)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				data := json.RawMessage(msg.Payload)
				if !json.Valid(data) {
					continue
				}
				err := conn.WriteJSON(gin.H{
					"type": wsEventType(msg.Channel),
					"data": data,
				})
				if err != nil {
					logger.Debug().Err(err).Msg("ws write error")
					return
				}
			}
		}
	}
}
