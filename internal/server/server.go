// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "cuisine/docs" // swagger docs
	"cuisine/internal/bootstrap"
	"cuisine/internal/config"
	"cuisine/internal/feed"
	"cuisine/internal/featureflags"
	"cuisine/internal/middleware"
	"cuisine/internal/models"
	"cuisine/internal/notifications"
	"cuisine/internal/places"
	"cuisine/internal/repository"
	"cuisine/internal/service"
	"cuisine/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// EventAuthState is the user-stream event emitted on sign-in and sign-out.
const EventAuthState = "auth_state"

// wireableHub is implemented by every WebSocket hub that can be wired to
// Redis pub/sub and gracefully shut down.
type wireableHub interface {
	Name() string
	StartWiring(ctx context.Context, n *notifications.Notifier) error
	Shutdown(ctx context.Context) error
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	notifier *notifications.Notifier
	hub      *notifications.Hub // per-user notification stream
	feedHub  *notifications.Hub // live feed subscriptions
	hubs     []wireableHub
	amqp     *notifications.AMQPDispatcher
	media    *storage.MemoryStore // set when no bucket is configured

	featureFlags      *featureflags.Manager
	userService       *service.UserService
	authService       *service.AuthService
	likeService       *service.LikeService
	restaurantService *service.RestaurantService
	postService       *service.PostService
	commentService    *service.CommentService
	imageService      *service.ImageService
	reminderService   *service.ReminderService
	feedService       *service.FeedService

	authListeners []func()
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, rdb, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{
		SeedDemo: cfg.SeedDemoData,
	})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, rdb)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	blobs, media, err := newBlobStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("cuisine-api"),
		media:          media,
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		notifier:       notifications.NewNotifier(redisClient),
		hub:            notifications.NewHub("notifications"),
		feedHub:        notifications.NewHub("feed"),
	}
	s.hubs = []wireableHub{s.hub}

	rdb := cmdable(redisClient)

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	savedRepo := repository.NewSavedPostRepository(db)
	favoriteRepo := repository.NewFavoriteRepository(db)
	reminderRepo := repository.NewReminderRepository(db)

	placesClient := places.NewClient(cfg, rdb)
	toggler := service.NewToggler()

	s.userService = service.NewUserService(userRepo, rdb)
	s.authService = service.NewAuthService(userRepo, rdb, service.LogMailer{}, cfg)
	s.imageService = service.NewImageService(blobs, cfg.ImageMaxUploadSizeMB)

	enricher := feed.NewEnricher(s.userService, blobs, cfg.PresignTTL(), cfg.FeedConcurrency)
	assembler := feed.NewAssembler(postRepo, savedRepo, enricher, rdb, feed.Options{
		RadiusKm: cfg.FeedRadiusKm,
		MaxPosts: cfg.FeedMaxPosts,
		CacheTTL: cfg.FeedCacheTTL(),
	})

	s.likeService = service.NewLikeService(postRepo, savedRepo, s.notifier, toggler)
	s.restaurantService = service.NewRestaurantService(placesClient, favoriteRepo, rdb, toggler)
	s.postService = service.NewPostService(postRepo, placesClient, s.imageService, enricher, s.notifier)
	s.commentService = service.NewCommentService(commentRepo, postRepo, s.userService, s.notifier)
	s.feedService = service.NewFeedService(assembler, s.notifier, cfg.FeedInvalidateOnFocus)

	dispatchers := []notifications.NamedDispatcher{
		{Name: "user_stream", Dispatcher: notifications.NewUserStreamDispatcher(s.notifier)},
	}
	if cfg.AMQPURL != "" {
		d, err := notifications.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Warn("amqp unavailable, reminders use the user stream only", slog.String("error", err.Error()))
		} else {
			s.amqp = d
			dispatchers = append(dispatchers, notifications.NamedDispatcher{
				Name:       "amqp",
				Dispatcher: d,
				Allow:      s.featureFlags.Gate(featureflags.ReminderPush),
			})
		}
	}
	s.reminderService = service.NewReminderService(
		reminderRepo,
		favoriteRepo,
		placesClient,
		s.userService,
		notifications.NewMultiDispatcher(dispatchers...),
		time.Duration(cfg.ReminderPollSeconds)*time.Second,
		cfg.ReminderMaxAttempts,
	)

	s.authListeners = append(s.authListeners,
		s.authService.OnAuthStateChanged(s.feedService.HandleAuthState),
		s.authService.OnAuthStateChanged(s.publishAuthState),
	)

	return s, nil
}

// cmdable avoids handing services a typed-nil *redis.Client.
func cmdable(rdb *redis.Client) redis.Cmdable {
	if rdb == nil {
		return nil
	}
	return rdb
}

func newBlobStore(cfg *config.Config) (storage.BlobStore, *storage.MemoryStore, error) {
	if cfg.StorageEnabled() {
		s3, err := storage.NewS3Store(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("blob store: %w", err)
		}
		return s3, nil, nil
	}
	mem := storage.NewMemoryStore(fmt.Sprintf("http://localhost:%s/media", cfg.Port))
	return mem, mem, nil
}

func (s *Server) publishAuthState(change service.AuthStateChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.notifier.PublishUserEvent(ctx, change.UserID, notifications.Event{
		Type:    EventAuthState,
		Payload: change,
	}); err != nil {
		slog.Warn("publish auth state failed",
			slog.Uint64("user_id", uint64(change.UserID)),
			slog.String("error", err.Error()),
		)
	}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New(helmet.Config{CrossOriginResourcePolicy: "cross-origin"}))

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:8081,http://localhost:19006"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewRateLimitedError("Too many requests, please try again later"))
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)
	api.Get("/", s.HealthCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Cuisine Backend Metrics Dashboard",
	}))

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	if s.media != nil {
		app.Get("/media/*", s.ServeMedia)
	}

	authRequired := middleware.AuthRequired(s.authService)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/signup", s.limit(limitSignup), s.Signup)
	auth.Post("/login", s.limit(limitLogin), s.Login)
	auth.Post("/logout", authRequired, s.Logout)
	auth.Post("/password-reset", s.limit(limitPasswordReset), s.RequestPasswordReset)
	auth.Post("/password-reset/confirm", s.limit(limitPasswordResetConfirm), s.ConfirmPasswordReset)

	// Protected routes
	protected := api.Group("", authRequired)

	protected.Get("/feature-flags", s.GetFeatureFlags)

	// User routes
	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Put("/me", s.UpdateMyProfile)
	users.Put("/me/notifications", s.UpdateNotificationPermission)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	users.Get("/:id/posts", s.GetUserPosts)
	users.Get("/:id", s.GetUserProfile)

	// Post routes
	posts := protected.Group("/posts")
	posts.Get("/feed", s.GetFeed)
	posts.Get("/journal", s.GetJournal)
	posts.Get("/saved", s.GetSavedPosts)
	posts.Post("/", s.limit(limitCreatePost), s.CreatePost)
	posts.Post("/images", s.limit(limitUploadImage), s.UploadPostImage)
	// Define specific /:id/:resource routes BEFORE generic /:id route
	posts.Post("/:id/like", s.LikePost)
	posts.Delete("/:id/like", s.UnlikePost)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", s.limit(limitCreateComment), s.CreateComment)
	posts.Get("/:id", s.GetPost)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	// Restaurant routes
	restaurants := protected.Group("/restaurants")
	restaurants.Get("/search", s.limit(limitRestaurantSearch), s.SearchRestaurants)
	restaurants.Get("/favorites", s.GetFavoriteRestaurants)
	restaurants.Post("/:placeId/favorite", s.FavoriteRestaurant)
	restaurants.Delete("/:placeId/favorite", s.UnfavoriteRestaurant)
	restaurants.Post("/:placeId/reminders", s.ScheduleReminder)
	restaurants.Get("/:placeId", s.GetRestaurant)

	reminders := protected.Group("/reminders")
	reminders.Get("/", s.GetReminders)
	reminders.Delete("/:id", s.CancelReminder)

	// Websocket endpoints - protected by AuthRequired
	ws := api.Group("/ws", authRequired)
	ws.Get("/feed", s.WebSocketFeedHandler())
	ws.Get("/", s.WebsocketHandler())
}

// HealthCheck is a simple alias for ReadinessCheck
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	return s.ReadinessCheck(c)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"message": "Cuisine API",
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// ServeMedia serves blobs from the in-memory store used without a bucket.
func (s *Server) ServeMedia(c *fiber.Ctx) error {
	body, ok := s.media.Get(c.Params("*"))
	if !ok {
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("Media", c.Params("*")))
	}
	c.Set(fiber.HeaderContentType, mediaContentType(c.Params("*")))
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Send(body)
}

// newApp builds the Fiber app with middleware and routes.
func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "Cuisine API",
		BodyLimit: (s.maxUploadMB() + 1) * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

func (s *Server) maxUploadMB() int {
	if s.config.ImageMaxUploadSizeMB > 0 {
		return s.config.ImageMaxUploadSizeMB
	}
	return service.DefaultImageMaxUploadSizeMB
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.newApp()

	if err := s.notifier.StartFeedSubscriber(s.shutdownCtx); err != nil {
		slog.Error("failed to start feed subscriber", slog.String("error", err.Error()))
	}

	// Wire all hubs to Redis subscriber if available
	for _, h := range s.hubs {
		go func() {
			if err := h.StartWiring(s.shutdownCtx, s.notifier); err != nil {
				slog.Error("failed to start hub wiring", slog.String("hub", h.Name()), slog.String("error", err.Error()))
			}
		}()
	}

	s.reminderService.StartDispatcher(s.shutdownCtx)

	slog.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	// Cancel the server-scoped context to stop subscribers and the dispatcher
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	for _, unsubscribe := range s.authListeners {
		unsubscribe()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			slog.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	// Close WebSocket connections gracefully
	for _, h := range append(s.hubs, s.feedHub) {
		if err := h.Shutdown(ctx); err != nil {
			slog.Error("error shutting down hub", slog.String("hub", h.Name()), slog.String("error", err.Error()))
		}
	}

	if s.amqp != nil {
		if err := s.amqp.Close(); err != nil {
			slog.Error("error closing amqp", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			slog.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			slog.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	slog.Info("server shutdown complete")
	return nil
}
