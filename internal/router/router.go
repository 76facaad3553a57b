// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/javajoker/marketsync/internal/config"
	"github.com/javajoker/marketsync/internal/handlers"
	"github.com/javajoker/marketsync/internal/middleware"
	"github.com/javajoker/marketsync/internal/services"
	"github.com/javajoker/marketsync/internal/utils"
)

const version = "1.0.0"

func Initialize(sync *services.SyncService, cfg *config.Config) *gin.Engine {
	st := sync.Store()
	authService := services.NewAuthService(st, cfg.JWT.AccessTokenTTL)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	listingHandler := handlers.NewListingHandler(st, sync.Listings(), sync.Repricing())
	productHandler := handlers.NewProductHandler(st, sync.Listings(), sync.Queue())
	notificationHandler := handlers.NewNotificationHandler(sync.Notifications())
	feedHandler := handlers.NewFeedHandler(st, sync.Exporter())
	jobHandler := handlers.NewJobHandler(st)

	utils.SetJWTSecret(cfg.JWT.SecretKey)

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	ipLimiter := middleware.NewRateLimiter(rate.Limit(cfg.Server.RequestsPerSecond), cfg.Server.Burst)
	ipLimiter.StartSweeper(time.Minute, nil)
	r.Use(ipLimiter.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": version,
		})
	})

	v1 := r.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/token", authHandler.Token)
		}

		protected := v1.Group("")
		operatorLimiter := middleware.NewRateLimiter(rate.Limit(cfg.Server.RequestsPerSecond), cfg.Server.Burst).
			WithKey(middleware.ByOperator)
		operatorLimiter.StartSweeper(time.Minute, nil)
		protected.Use(middleware.AuthRequired(), operatorLimiter.Middleware())

		listings := protected.Group("/listings")
		{
			listings.GET("", listingHandler.GetListings)
			listings.GET("/:id", listingHandler.GetListing)
			listings.GET("/:id/margin", listingHandler.GetMargin)
			listings.PATCH("/:id", middleware.AdminRequired(), listingHandler.UpdateListing)
			listings.POST("/:id/reprice", middleware.AdminRequired(), listingHandler.Reprice)
			listings.POST("/:id/refresh-price", middleware.AdminRequired(), listingHandler.RefreshPrice)
			listings.POST("/:id/retire", middleware.AdminRequired(), listingHandler.RetireListing)
		}

		products := protected.Group("/products")
		{
			products.GET("/:id/availability", productHandler.GetAvailability)
			products.POST("/:id/propagate-stock", middleware.AdminRequired(), productHandler.PropagateStock)
			products.POST("/:id/suppliers", middleware.AdminRequired(), productHandler.AddSupplier)
		}

		protected.POST("/listing-requests", middleware.AdminRequired(), productHandler.CreateListingRequest)
		protected.POST("/notifications", notificationHandler.Ingest)

		feeds := protected.Group("/feed-requests")
		{
			feeds.GET("", feedHandler.GetFeedRequests)
			feeds.POST("/export", middleware.AdminRequired(), feedHandler.Export)
		}

		protected.GET("/jobs", jobHandler.GetJobs)
	}

	return r
}
