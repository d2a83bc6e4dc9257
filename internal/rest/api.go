package rest

import (
	"net/http"
	"os"

	"github.com/dfryer1193/odtswap/internal/config"
	"github.com/dfryer1193/odtswap/internal/metrics"
	"github.com/dfryer1193/odtswap/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with middleware, API routes and static assets
func NewRouter(cfg *config.Config, conversions ConversionService, recorder *metrics.Recorder) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.MetricsMiddleware(recorder))
	router.Use(gin.CustomRecovery(middleware.HandlePanics()))

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader, conversionIDHeader, "Content-Disposition"}
		router.Use(cors.New(corsConfig))
	}

	NewApi(router, NewConversionHandler(conversions, cfg))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(recorder.Handler()))

	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		files := http.FileServer(http.Dir(cfg.StaticDir))
		router.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.Status(http.StatusNotFound)
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	}

	return router
}

func NewApi(router *gin.Engine, conversions *ConversionHandler) {
	router.POST("/upload", conversions.Upload)

	conversionsV1 := router.Group("conversions/v1")
	{
		conversionsV1.GET("/", conversions.ListConversions)
		conversionsV1.GET("/:id", conversions.GetConversion)
		conversionsV1.GET("/:id/download", conversions.Download)
		conversionsV1.DELETE("/:id", conversions.DeleteConversion)
	}
}
