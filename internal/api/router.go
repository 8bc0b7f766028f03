package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"concierge/callbridge/internal/logger"
)

func NewRouter(h *Handlers, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/twilio/voice", h.Voice)
	r.GET("/session", h.Session)

	r.GET("/calls", h.ListCalls)
	r.GET("/calls/:id/events", h.ListEvents)

	// Twilio opens the media stream with a plain GET upgrade.
	r.GET("/media-stream", h.MediaStream)
	r.GET("/media-stream/:token", h.MediaStream)

	return r
}
