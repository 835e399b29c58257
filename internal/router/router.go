// internal/router/router.go
package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raulk/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/handlers"
	"github.com/javajoker/datamarket-backend/internal/metrics"
	"github.com/javajoker/datamarket-backend/internal/middleware"
	"github.com/javajoker/datamarket-backend/internal/purchase"
	"github.com/javajoker/datamarket-backend/internal/services"
	"github.com/javajoker/datamarket-backend/internal/txstate"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

const Version = "1.0.0"

// Dependencies are the external collaborators of the HTTP server. A nil
// Gateway disables purchases and a nil Resolver disables metadata lookups.
type Dependencies struct {
	DB       *gorm.DB
	Config   *config.Config
	Metrics  *metrics.Metrics
	Clock    clock.Clock
	Gateway  purchase.Gateway
	Resolver services.MetadataResolver
}

type Services struct {
	Notifications *services.NotificationService
	Storage       *services.StorageService
	Users         *services.UserService
	Auth          *services.AuthService
	Catalog       *services.CatalogService
	Transactions  *services.TransactionService
	Reviews       *services.ReviewService
	Orchestrator  *purchase.Orchestrator
}

func NewServices(deps Dependencies) *Services {
	cfg := deps.Config
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		logrus.WithError(err).Warn("Avatar storage disabled")
		storageService = nil
	}

	notificationService := services.NewNotificationService(deps.DB, cfg)
	userService := services.NewUserService(deps.DB, storageService)
	catalogService := services.NewCatalogService(deps.DB, deps.Resolver, services.NewSummaryService(cfg.Summary))
	transactionService := services.NewTransactionService(deps.DB, txstate.New(cfg.Purchase.MaxRetries), deps.Metrics, notificationService, deps.Clock)

	svc := &Services{
		Notifications: notificationService,
		Storage:       storageService,
		Users:         userService,
		Auth:          services.NewAuthService(deps.DB, cfg, userService, deps.Clock),
		Catalog:       catalogService,
		Transactions:  transactionService,
		Reviews:       services.NewReviewService(deps.DB),
	}
	if deps.Gateway != nil {
		svc.Orchestrator = purchase.NewOrchestrator(catalogService, transactionService, deps.Gateway, cfg.Purchase, deps.Clock, deps.Metrics)
	}
	return svc
}

// Initialize builds the gin engine. The returned func stops the background
// work of the rate limiters.
func Initialize(deps Dependencies, svc *Services) (*gin.Engine, func()) {
	cfg := deps.Config
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(deps.DB, Version)
	authHandler := handlers.NewAuthHandler(svc.Auth)
	userHandler := handlers.NewUserHandler(svc.Users)
	datasetHandler := handlers.NewDatasetHandler(svc.Catalog)
	reviewHandler := handlers.NewReviewHandler(svc.Reviews)
	transactionHandler := handlers.NewTransactionHandler(svc.Transactions)
	purchaseHandler := handlers.NewPurchaseHandler(svc.Orchestrator, svc.Users)
	liveSearchHandler := handlers.NewLiveSearchHandler(svc.Catalog.Snapshot, deps.Clock, cfg.Search.DebounceQuiet, cfg.Server.AllowedOrigins, deps.Metrics)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	generalLimiter := middleware.NewRateLimiter(rate.Limit(max(cfg.Server.RatePerSecond, 1)), max(cfg.Server.RateBurst, 1))
	authLimiter := middleware.NewRateLimiter(rate.Every(time.Minute/time.Duration(max(cfg.Server.AuthPerMinute, 1))), max(cfg.Server.AuthPerMinute, 1))
	stop := func() {
		generalLimiter.Stop()
		authLimiter.Stop()
	}

	authRequired := middleware.AuthRequired(svc.Auth)
	optionalAuth := middleware.OptionalAuth(svc.Auth)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Metrics))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))
	r.Use(generalLimiter.Middleware())
	r.Use(middleware.AuditLogMiddleware(deps.DB))

	r.GET("/health", healthHandler.Health)
	if cfg.Metrics.Enabled && deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(authLimiter.Middleware())
		{
			auth.GET("/message", authHandler.Message)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", authRequired, authHandler.GetProfile)
		}

		// User routes
		users := v1.Group("/users")
		{
			users.GET("/:address", userHandler.GetUser)

			protected := users.Group("")
			protected.Use(authRequired)
			{
				protected.POST("", userHandler.Register)
				protected.PUT("/profile", userHandler.UpdateProfile)
				protected.POST("/avatar", userHandler.UploadAvatar)
			}
		}

		// Dataset routes
		datasets := v1.Group("/datasets")
		{
			datasets.GET("", optionalAuth, datasetHandler.GetDatasets)
			datasets.GET("/:id", optionalAuth, datasetHandler.GetDataset)
			datasets.GET("/:id/metadata", datasetHandler.GetMetadata)
			datasets.GET("/:id/summary", datasetHandler.GetSummary)
			datasets.GET("/:id/reviews", reviewHandler.GetReviews)

			protected := datasets.Group("")
			protected.Use(authRequired)
			{
				protected.POST("", datasetHandler.CreateDataset)
				protected.PATCH("/:id", datasetHandler.UpdateDataset)
				protected.POST("/:id/reviews", reviewHandler.CreateReview)
			}
		}

		v1.GET("/categories", datasetHandler.GetCategories)

		// Transaction routes
		transactions := v1.Group("/transactions")
		transactions.Use(authRequired)
		{
			transactions.GET("", transactionHandler.GetTransactions)
			transactions.POST("", transactionHandler.CreateTransaction)
			transactions.GET("/hash/:hash", transactionHandler.GetTransactionsByHash)
			transactions.GET("/:id", transactionHandler.GetTransaction)
			transactions.POST("/:id/events", transactionHandler.PostEvent)
		}

		// Purchase routes
		purchases := v1.Group("/purchases")
		purchases.Use(authRequired)
		{
			purchases.POST("/batch", purchaseHandler.PurchaseBatch)
		}

		// Search routes
		v1.GET("/search/live", liveSearchHandler.Serve)
	}

	return r, stop
}
