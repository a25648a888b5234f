package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/api/handlers"
	"github.com/codyseavey/card-pricing/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// RouterConfig holds the HTTP-layer settings and handlers
type RouterConfig struct {
	CORSOrigins      []string
	FrontendDistPath string

	Cards   *handlers.CardHandler
	Prices  *handlers.PriceHandler
	Archive *handlers.ArchiveHandler
}

func SetupRouter(cfg RouterConfig, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestMetrics(), requestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	router.Use(cors.New(corsConfig))

	apiGroup := router.Group("/api")
	{
		cards := apiGroup.Group("/cards")
		{
			cards.GET("/search", cfg.Cards.SearchCards)
			cards.GET("/:id", cfg.Cards.GetCard)
			cards.GET("/:id/price-history", cfg.Prices.GetPriceHistory)
			cards.GET("/:id/pricing", cfg.Prices.GetCurrentPricing)
			cards.GET("/:id/graded", cfg.Prices.GetGradedPrices)
			cards.GET("/:id/population", cfg.Prices.GetPopulation)
		}

		prices := apiGroup.Group("/prices")
		{
			prices.GET("/trending", cfg.Prices.GetTrending)
			prices.GET("/status", cfg.Prices.GetPriceStatus)
			prices.POST("/sync", cfg.Prices.TriggerSync)
		}

		if cfg.Archive != nil {
			archive := apiGroup.Group("/archive")
			{
				archive.GET("/price-history/:id", cfg.Archive.GetPriceHistory)
				archive.GET("/current/:id", cfg.Archive.GetCurrentPrice)
			}
			apiGroup.GET("/tcgplayer/history", cfg.Archive.GetFlatHistory)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.FrontendDistPath != "" && dirExists(cfg.FrontendDistPath) {
		serveFrontend(router, cfg.FrontendDistPath)
	}

	return router
}

func serveFrontend(router *gin.Engine, frontendPath string) {
	indexPath := filepath.Join(frontendPath, "index.html")

	router.Static("/assets", filepath.Join(frontendPath, "assets"))
	router.StaticFile("/vite.svg", filepath.Join(frontendPath, "vite.svg"))
	router.GET("/", func(c *gin.Context) {
		c.File(indexPath)
	})

	// SPA fallback
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.File(indexPath)
	})
}

// requestID propagates or mints X-Request-ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		log.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
