package loader

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/calypsold/internal/auth"
	"github.com/danmuck/calypsold/internal/guestmem"
	"github.com/danmuck/calypsold/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type cacheSnapshotter interface {
	Snapshot() []guestmem.CacheEntry
}

// AdminRouter exposes health, listener status, the translation cache, and
// prometheus metrics.
func (s *Service) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.Component("admin")))
	r.Use(observability.RequestMetricsMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})

	api := r.Group("/")
	if s.cfg.AdminToken != "" {
		api.Use(auth.Middleware(auth.StaticToken{Token: s.cfg.AdminToken}))
	}

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Status())
	})

	api.GET("/cache", func(c *gin.Context) {
		snap, ok := s.mem.(cacheSnapshotter)
		if !ok {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "translation cache not available"})
			return
		}
		entries := snap.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"count":   len(entries),
			"entries": entries,
		})
	})

	api.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// serveAdmin runs the admin HTTP server until ctx is done.
func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("loader.admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
