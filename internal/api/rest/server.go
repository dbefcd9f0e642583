package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Simumatik/simumatik-driver-manager/internal/api/websocket"
	"github.com/Simumatik/simumatik-driver-manager/internal/config"
	"github.com/Simumatik/simumatik-driver-manager/internal/manager"
)

type Server struct {
	router *gin.Engine
	mgr    *manager.Manager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
}

func NewServer(cfg *config.Config, mgr *manager.Manager, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		mgr:    mgr,
		logger: logger,
		wsHub:  wsHub,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	// Live update stream
	s.router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWS(s.wsHub, s.logger, c.Writer, c.Request)
	})

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)

		drivers := v1.Group("/drivers")
		{
			drivers.GET("", s.listDrivers)
			drivers.GET("/:name", s.getDriver)
		}

		variables := v1.Group("/variables")
		{
			variables.GET("/:id", s.getVariable)
			variables.POST("/:id", s.setVariable)
			variables.PUT("/:id", s.declareVariable)
		}
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
