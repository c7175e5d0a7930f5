package broker

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewServer mounts the broker endpoints and returns an HTTP server.
func NewServer(addr string, hub *Hub, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	wsHandler := NewWSHandler(hub, logger)
	router.GET("/ws", func(c *gin.Context) {
		wsHandler.ServeHTTP(c.Writer, c.Request)
	})
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
