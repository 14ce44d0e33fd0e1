package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"clob-market-data/internal/market"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Market data is public; origin filtering happens at the edge.
		return true
	},
}

var addressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// HealthChecker reports one dependency's liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Pinger is the stream-bus liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig holds listener configuration.
type ServerConfig struct {
	Port            int
	HealthPort      int
	AllowedOrigins  string
	ReadTimeout     int
	WriteTimeout    int
	ShutdownTimeout int
}

// Server is the WebSocket gateway plus the REST market-data surface.
type Server struct {
	router       *gin.Engine
	healthRouter *gin.Engine
	httpServer   *http.Server
	healthServer *http.Server
	hub          *Hub
	service      *market.Service
	store        HealthChecker
	bus          Pinger
	config       ServerConfig
	log          zerolog.Logger
}

// NewServer wires the routes.
func NewServer(cfg ServerConfig, hub *Hub, service *market.Service, store HealthChecker, bus Pinger, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:       gin.New(),
		healthRouter: gin.New(),
		hub:          hub,
		service:      service,
		store:        store,
		bus:          bus,
		config:       cfg,
		log:          log,
	}

	s.router.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	s.router.Use(cors.New(corsConfig))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Public subscription endpoint and per-user channels.
	s.router.GET("/", s.handlePublicWebSocket)
	s.router.GET("/ws", s.handlePublicWebSocket)
	s.router.GET("/ws/:address", s.handleUserWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/pairs", s.handlePairs)
		api.GET("/markets", s.handlePairs)
		api.GET("/currencies", s.handleCurrencies)
		api.GET("/currency", s.handleCurrency)
		api.GET("/ticker/price", s.handleTickerPrice)
		api.GET("/ticker/24hr", s.handleTicker24hr)
		api.GET("/depth", s.handleDepth)
		api.GET("/trades", s.handleTrades)
		api.GET("/klines", s.handleKlines)
		api.GET("/openOrders", s.handleOpenOrders)
		api.GET("/allOrders", s.handleAllOrders)
		api.GET("/account", s.handleAccount)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
	})

	s.healthRouter.GET("/health", s.handleHealth)
}

// Start runs the gateway and health listeners.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}
	s.healthServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HealthPort),
		Handler: s.healthRouter,
	}

	go func() {
		s.log.Info().Int("port", s.config.HealthPort).Msg("health endpoint listening")
		if err := s.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("health server failed")
		}
	}()

	s.log.Info().Int("port", s.config.Port).Msg("websocket gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.ShutdownTimeout)*time.Second)
	defer cancel()

	if s.healthServer != nil {
		_ = s.healthServer.Shutdown(shutdownCtx)
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(shutdownCtx)
	}
	return nil
}

// handlePublicWebSocket upgrades a public subscription connection.
func (s *Server) handlePublicWebSocket(c *gin.Context) {
	s.upgrade(c, "")
}

// handleUserWebSocket upgrades a user-bound connection; the path address
// must be 0x plus 40 hex digits in either case and is bound lowercased. Matching execution reports and balance
// updates are delivered without an explicit subscription.
func (s *Server) handleUserWebSocket(c *gin.Context) {
	address := c.Param("address")
	if !addressRe.MatchString(address) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid address"})
		return
	}
	s.upgrade(c, strings.ToLower(address))
}

func (s *Server) upgrade(c *gin.Context, userID string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(s.hub, conn, userID)
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

// handleHealth reports dependency liveness: 200 when store and bus answer,
// 503 otherwise, with gateway stats attached either way.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus, redisStatus := "ok", "ok"
	healthy := true
	if err := s.store.HealthCheck(ctx); err != nil {
		dbStatus = err.Error()
		healthy = false
	}
	if err := s.bus.Ping(ctx); err != nil {
		redisStatus = err.Error()
		healthy = false
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":    overall,
		"database":  dbStatus,
		"redis":     redisStatus,
		"websocket": gin.H{"stats": s.hub.GetStats()},
	})
}
