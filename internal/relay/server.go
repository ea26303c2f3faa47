// Package relay — HTTP-консоль генерации: запускает прогоны и ретранслирует
// их прогресс подписчикам (браузерной панели) тем же SSE-форматом,
// которым говорит бэкенд.
package relay

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

// keepAliveInterval — период SSE-комментариев, не дающих прокси закрыть соединение.
const keepAliveInterval = 15 * time.Second

// Server обслуживает HTTP-консоль генерации.
type Server struct {
	manager *RunManager
	hub     *Hub
	logger  *zap.Logger
}

// NewServer создает консольный сервер.
func NewServer(manager *RunManager, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		manager: manager,
		hub:     hub,
		logger:  logger.Named("RelayServer"),
	}
}

// Router собирает gin-роутер консоли с middleware в принятом порядке:
// логирование, recovery, CORS, маршруты, потом Prometheus.
func (s *Server) Router(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(GinZapLogger(s.logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	s.RegisterRoutes(router)

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	return router
}

// RegisterRoutes вешает маршруты консоли.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		gen := api.Group("/projects/:projectID/generation")
		gen.POST("", s.startRun)
		gen.POST("/retry", s.retryRun)
		gen.POST("/confirm", s.confirmRun)
		gen.POST("/cancel", s.cancelRun)
		gen.GET("/state", s.runState)
		gen.GET("/events", s.streamEvents)
	}
}

type startRequest struct {
	Resume bool `json:"resume"`
}

func (s *Server) startRun(c *gin.Context) {
	projectID := c.Param("projectID")

	var req startRequest
	// Пустое тело допустимо: дефолт — старт с нуля.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.manager.Start(projectID, req.Resume); err != nil {
		if errors.Is(err, ErrRunActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "status": "started"})
}

func (s *Server) retryRun(c *gin.Context) {
	projectID := c.Param("projectID")
	if err := s.manager.Retry(projectID); err != nil {
		s.respondManagerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "status": "retrying"})
}

func (s *Server) confirmRun(c *gin.Context) {
	projectID := c.Param("projectID")

	var decision map[string]interface{}
	if err := c.ShouldBindJSON(&decision); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid decision body"})
		return
	}

	if err := s.manager.Confirm(projectID, decision); err != nil {
		s.respondManagerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"project_id": projectID, "status": "confirmed"})
}

func (s *Server) cancelRun(c *gin.Context) {
	projectID := c.Param("projectID")
	if err := s.manager.Cancel(projectID); err != nil {
		s.respondManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": projectID, "status": "cancelled"})
}

func (s *Server) runState(c *gin.Context) {
	state, err := s.manager.State(c.Param("projectID"))
	if err != nil {
		s.respondManagerError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// streamEvents ретранслирует события прогона подписчику по SSE
// до его отключения.
func (s *Server) streamEvents(c *gin.Context) {
	projectID := c.Param("projectID")

	subID, events := s.hub.Subscribe(projectID)
	defer s.hub.Unsubscribe(projectID, subID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{Event: "progress", Data: ev}); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) respondManagerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrRunActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
