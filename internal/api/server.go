package api

import (
	"context"
	"net/http"
	"time"

	"boxoffice/internal/app"
	"boxoffice/internal/authz"
	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/handlers"
	"boxoffice/internal/middleware"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// HealthChecker reports database health for /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) database.HealthCheck
}

// Server представляет HTTP сервер API
type Server struct {
	router *gin.Engine
	config *config.Config
	rt     *app.Runtime
}

// NewServer создает новый экземпляр сервера поверх готового runtime
func NewServer(cfg *config.Config, rt *app.Runtime) *Server {
	// Аудит доступен только при включённом Elasticsearch
	var audit handlers.AuditSearcher
	if rt.Search != nil {
		audit = rt.Search
	}

	return &Server{
		router: NewRouter(cfg, rt.Services, audit, rt.DB),
		config: cfg,
		rt:     rt,
	}
}

// NewRouter собирает gin-роутер. health may be nil.
func NewRouter(cfg *config.Config, services *service.Services, audit handlers.AuditSearcher, health HealthChecker) *gin.Engine {
	// Устанавливаем режим Gin
	gin.SetMode(cfg.GinMode)

	router := gin.New()

	// Применяем middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())

	setupRoutes(router, cfg, handlers.NewHandlers(services, audit), health)
	return router
}

// setupRoutes настраивает все API роуты
func setupRoutes(router *gin.Engine, cfg *config.Config, h *handlers.Handlers, health HealthChecker) {
	router.GET("/health", healthCheck(health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	// Публичные роуты шлюза
	payments := api.Group("/payments")
	{
		payments.GET("/success", h.NotifyPaymentCompleted)
		payments.GET("/fail", h.NotifyPaymentFailed)
		payments.POST("/notifications", h.OnPaymentUpdates)
	}

	// Обязательная JWT авторизация для остальных роутов
	authed := api.Group("")
	authed.Use(middleware.JWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	{
		authed.GET("/availability", h.GetAvailability)

		cart := authed.Group("/cart")
		{
			cart.GET("", h.ListCart)
			cart.POST("/items", h.AddCartItem)
			cart.PATCH("/items", h.UpdateCartItem)
			cart.DELETE("/items", h.RemoveCartItem)
		}

		authed.POST("/checkout", h.Checkout)
		authed.POST("/payments/intents", h.CreatePaymentIntent)

		authed.GET("/tickets", h.ListTickets)
		authed.POST("/orders/:orderId/tickets/resend", h.ResendTickets)

		admin := authed.Group("/admin")
		admin.Use(middleware.RequireRole(authz.RoleAdmin))
		{
			admin.PATCH("/availability", h.AdjustAvailability)
			admin.GET("/notifications", h.ListNotifications)
			admin.GET("/notifications/search", h.SearchNotifications)
			admin.POST("/notifications/requeue", h.RequeueNotifications)
			admin.POST("/bookings/release-expired", h.ReleaseExpired)
		}
	}
}

// healthCheck обрабатывает health check запросы
func healthCheck(health HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "boxoffice-api",
			"version": "1.0.0",
		}

		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()

			db := health.HealthCheck(ctx)
			body["database"] = db
			if db.Status != "healthy" {
				body["status"] = "degraded"
				c.JSON(http.StatusServiceUnavailable, body)
				return
			}
		}

		c.JSON(http.StatusOK, body)
	}
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() {
	s.rt.Close()
}
