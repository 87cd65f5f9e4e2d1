package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/wampd/internal/observability"
	"github.com/danmuck/wampd/internal/transport"
)

const (
	pathHealth   = "/healthz"
	pathMetrics  = "/metrics"
	pathSessions = "/sessions"
)

func (s *Service) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.logs))
	r.Use(observability.RequestMetricsMiddleware(string(s.cfg.Realm)))
	r.Use(cors.New(corsConfig(s.cfg.HTTP.CorsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET(pathHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"realm":    s.cfg.Realm,
			"uptime":   time.Since(s.started).Round(time.Second).String(),
			"sessions": len(s.Sessions()),
		})
	})
	r.GET(pathMetrics, gin.WrapH(promhttp.Handler()))
	r.GET(pathSessions, func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Sessions())
	})
	r.GET(s.cfg.HTTP.WebsocketPath, s.handleWebsocket)
	return r
}

func (s *Service) handleWebsocket(c *gin.Context) {
	fc, ser, err := transport.AcceptWebsocket(c.Writer, c.Request, s.ws, s.cfg.Transport)
	if err != nil {
		s.logs.Warn().Err(err).Str("remote", c.ClientIP()).Msg("server.Service websocket upgrade")
		return
	}
	s.Attach(fc, ser, "websocket", c.Request.RemoteAddr)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Sec-WebSocket-Protocol"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// originChecker admits websocket upgrades from the CORS origins. Requests
// without an Origin header come from non-browser peers and are admitted.
func originChecker(origins []string) func(*http.Request) bool {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		return slices.Contains(origins, origin)
	}
}
