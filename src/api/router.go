// Package api exposes the served snapshot and sync controls over HTTP.
package api

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/api/middleware"
)

// Config holds router settings.
type Config struct {
	JWTSecret   string
	CORSOrigins []string
}

// New builds the gin engine. hist and runs may be nil. Trigger endpoints are
// only mounted when a JWT secret is configured.
func New(cfg Config, svc Syncer, hist HistoryReader, runs RunLister, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "If-None-Match"},
		ExposeHeaders: []string{"Content-Length", "ETag"},
	}
	if len(cfg.CORSOrigins) == 0 || slices.Contains(cfg.CORSOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	r.Use(cors.New(corsCfg))

	h := &handlers{svc: svc, hist: hist, runs: runs, logger: logger}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/status", h.status)
		v1.GET("/snapshot", h.snapshot)
		v1.GET("/snapshot/pending", h.pending)
		v1.GET("/history", h.epochs)
		v1.GET("/history/:epoch", h.history)
		v1.GET("/runs", h.recentRuns)

		if cfg.JWTSecret == "" {
			logger.Warn("api.jwt_secret not set, sync triggers disabled")
		} else {
			secured := v1.Group("", middleware.JWT([]byte(cfg.JWTSecret)))
			secured.POST("/sync", h.triggerSync)
			secured.POST("/snapshot/promote", h.promote)
		}
	}
	return r
}
