package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nvandessel/rumormill/internal/config"
	"github.com/nvandessel/rumormill/internal/metrics"
	"github.com/nvandessel/rumormill/internal/ratelimit"
	"github.com/nvandessel/rumormill/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server owns the local Store and exposes it over HTTP. Every process that
// wants the database goes through one Server, which is what lets the
// single-writer guarantee hold across process boundaries.
type Server struct {
	store   *storage.Store
	cfg     config.ServiceConfig
	log     *slog.Logger
	router  *gin.Engine
	started time.Time
}

// NewServer wires the routes and middleware around store. The caller remains
// responsible for closing the store.
func NewServer(store *storage.Store, cfg config.ServiceConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		store:   store,
		cfg:     cfg,
		log:     log,
		started: time.Now(),
	}

	metrics.Register()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	router.Use(requestMetrics())
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		router.Use(rateLimit(ratelimit.NewLimiter(cfg.RateLimit, burst)))
	}

	router.GET("/health", HandleHealth(store))
	router.GET("/stats", HandleStats(store, s.started))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/execute", HandleExecute(store))
	router.POST("/executemany", HandleExecuteMany(store))
	router.POST("/transaction", HandleTransaction(store))

	s.router = router
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is canceled, then shuts down gracefully, letting
// in-flight requests finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("delegation service listening", "addr", s.cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("delegation service shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
