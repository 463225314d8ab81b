// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/handler"
	"eink-power-cli/internal/middleware"
	"eink-power-cli/internal/monitor"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	controller       *service.ControllerService
	discoveryService *service.DiscoveryService
	metrics          *monitor.Metrics
	eventBus         *handler.EventBus
	wsHandler        *handler.WebSocketHandler
}

// NewRouter creates a new router instance. metrics may be nil.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	controller *service.ControllerService,
	discoveryService *service.DiscoveryService,
	metrics *monitor.Metrics,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		controller:       controller,
		discoveryService: discoveryService,
		metrics:          metrics,
		eventBus:         handler.NewEventBus(logger),
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.Server.Mode == gin.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	go r.eventBus.Start()

	return router
}

// Close stops the event bus and disconnects WebSocket clients
func (r *Router) Close() {
	if r.wsHandler != nil {
		r.wsHandler.Close()
	}
	r.eventBus.Stop()
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Server))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.controller, r.config, r.logger)
	commandHandler := handler.NewCommandHandler(r.controller, r.eventBus, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.controller, r.config, r.eventBus, r.logger)

	healthHandler.RegisterRoutes(&router.RouterGroup)

	apiV1 := router.Group("/api/v1")
	commandHandler.RegisterRoutes(apiV1)
	if r.discoveryService != nil {
		handler.NewDiscoveryHandler(r.discoveryService, r.logger).RegisterRoutes(apiV1)
	}

	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	if r.metrics != nil && r.config.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	r.addDocumentationRoutes(router)

	r.logger.Debug("All routes configured")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
