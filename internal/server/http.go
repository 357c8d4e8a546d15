package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openvirt/inventory-agent/internal/config"
)

const apiV1 = "/api/v1"

// Server is the HTTP status surface of the agent.
type Server struct {
	srv *http.Server
}

func NewServer(cfg *config.Configuration, registerHandlerFn func(router *gin.RouterGroup)) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	router := engine.Group(apiV1)
	router.Use(
		ginzap.Ginzap(zap.S().Desugar(), time.RFC3339, false),
		ginzap.RecoveryWithZap(zap.S().Desugar(), true),
	)

	registerHandlerFn(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.Server.HTTPPort),
		Handler: engine,
	}

	return &Server{srv: srv}, nil
}

// Start starts the HTTP server. It blocks until the server stops.
func (r *Server) Start(ctx context.Context) error {
	if err := r.srv.ListenAndServe(); err != nil {
		if err != http.ErrServerClosed {
			zap.S().Named("http").Errorw("failed to start server", "error", err)
		}
		return err
	}
	return nil
}

func (r *Server) Stop(ctx context.Context) {
	if err := r.srv.Shutdown(ctx); err != nil {
		zap.S().Errorw("server shutdown", "error", err)
	}
}
