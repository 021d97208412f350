package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/user/medprice/internal/config"
	"github.com/user/medprice/internal/monitoring"
	"github.com/user/medprice/internal/reconcile"
	"github.com/user/medprice/internal/storage"
	"github.com/user/medprice/internal/strategy"
	"github.com/user/medprice/internal/task"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	config       *config.Config
	router       http.Handler
	httpServer   *http.Server
	store        storage.Store
	pgStore      *storage.PostgresStore
	redisStore   *storage.RedisStore
	orchestrator *task.Orchestrator
	strategy     *strategy.Strategy
	reconciler   *reconcile.Reconciler
	metrics      *monitoring.Metrics
	logger       *zap.Logger
}

func NewServer(cfg *config.Config, ps *storage.PostgresStore, rs *storage.RedisStore, o *task.Orchestrator, st *strategy.Strategy, rec *reconcile.Reconciler, m *monitoring.Metrics, l *zap.Logger) *Server {
	s := &Server{
		config:       cfg,
		store:        ps,
		pgStore:      ps,
		redisStore:   rs,
		orchestrator: o,
		strategy:     st,
		reconciler:   rec,
		metrics:      m,
		logger:       l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // one-shot acquisitions may drive a browser
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
