package server

import (
	"net/http"
	"strings"
	"time"

	"blindtest/internal/config"
	"blindtest/internal/db"
	"blindtest/internal/game"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Server struct {
	store   *db.Store
	game    *game.Controller
	hub     *Hub
	cfg     config.Config
	auth    *verifier
	limiter *rateLimiter
}

func New(store *db.Store, ctrl *game.Controller, hub *Hub, cfg config.Config) *Server {
	registerValidators()
	return &Server{
		store:   store,
		game:    ctrl,
		hub:     hub,
		cfg:     cfg,
		auth:    newVerifier(cfg.JWTSecret),
		limiter: newRateLimiter(rate.Every(2*time.Second), 5),
	}
}

func (s *Server) Handler() http.Handler {
	if s.cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})
	r.GET("/ws", s.handleWebsocket)

	api := r.Group("/api")
	api.GET("/themes", s.handleThemes)
	api.GET("/games", s.handleListGames)
	api.GET("/games/:id", s.handleGetGame)
	api.GET("/games/:id/rounds", s.handleListRounds)

	authed := api.Group("", s.requireUser())
	authed.POST("/games", s.limiter.middleware("create"), s.handleCreateGame)
	authed.POST("/games/join", s.limiter.middleware("join"), s.handleJoinGame)
	authed.POST("/games/:id/leave", s.handleLeaveGame)
	authed.GET("/games/:id/access", s.handleAccess)
	authed.GET("/me/game", s.handleMyGame)
	return cors.Handler(s.corsOptions())(r)
}

// accessLog writes one line per request. Websocket upgrades are skipped.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/ws") {
			return
		}
		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).
			Msg("http")
	}
}

// corsOptions shares the origin allow-list with the websocket origin check.
func (s *Server) corsOptions() cors.Options {
	return cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return s.originAllowed(origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
