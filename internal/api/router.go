package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"greendrake/offerdesk/internal/api/handlers"
	"greendrake/offerdesk/internal/api/middleware"
	"greendrake/offerdesk/internal/config"
	"greendrake/offerdesk/internal/email"
	"greendrake/offerdesk/internal/services"
	"greendrake/offerdesk/internal/storage"
	"greendrake/offerdesk/internal/tasks"
)

// Dependencies are the services the public API is built on.
type Dependencies struct {
	Users        services.IUserService
	Properties   services.IPropertyService
	Offers       services.IOfferService
	SentMessages services.ISentMessageService
	Analytics    services.IAnalyticsService
	Storage      storage.IObjectStorage
	Queue        tasks.Enqueuer
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger(), gin.CustomRecovery(handlers.Recover))
	r.NoRoute(handlers.NoRoute)
	r.NoMethod(handlers.NoMethod)

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)
	r.Use(middleware.CORSMiddleware())

	userHandler := handlers.NewUserHandler(deps.Users, cfg.JwtSecret, cfg.JwtTTL)
	propertyHandler := handlers.NewPropertyHandler(deps.Properties, deps.Storage, cfg.TemplateMaxBytes())
	offerHandler := handlers.NewOfferHandler(deps.Offers, deps.SentMessages, deps.Queue)
	calculatorHandler := handlers.NewCalculatorHandler()
	analyticsHandler := handlers.NewAnalyticsHandler(deps.Analytics)

	authRequired := middleware.AuthMiddleware(cfg.JwtSecret)
	adminRequired := middleware.AdminMiddleware()

	api := r.Group("/api")
	{
		api.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		user := api.Group("/user")
		user.Use(rateLimiter.Limit())
		{
			user.POST("/register", userHandler.Register)
			user.POST("/login", userHandler.Login)
		}

		property := api.Group("/property")
		property.Use(authRequired)
		{
			property.GET("/all", propertyHandler.List)
			property.POST("/calculate-irr", calculatorHandler.IRR)
			property.POST("/calculate-cap-rate", calculatorHandler.CapRate)
			property.GET("/:id", propertyHandler.Get)

			admin := property.Group("")
			admin.Use(adminRequired)
			{
				admin.POST("/create", propertyHandler.Create)
				admin.PUT("/:id", propertyHandler.Update)
				admin.DELETE("/:id", propertyHandler.Delete)
				admin.POST("/:id/template", propertyHandler.UploadTemplate)
				admin.GET("/:id/offers", offerHandler.ListByProperty)
				admin.GET("/offer/:id/email-thread", offerHandler.EmailThread)
			}
		}

		mail := api.Group("/email")
		mail.Use(authRequired, adminRequired)
		{
			mail.GET("/:messageId", offerHandler.Message)
		}

		offer := api.Group("/offer")
		offer.Use(authRequired, adminRequired)
		{
			offer.POST("/generate", offerHandler.Generate)
		}

		analytics := api.Group("/analytics")
		analytics.Use(authRequired, adminRequired)
		{
			analytics.GET("/market", analyticsHandler.Market)
			analytics.GET("/neighborhood", analyticsHandler.Neighborhood)
			analytics.GET("/property/:id", analyticsHandler.Property)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service engine: the JSON control
// endpoint and Prometheus metrics.
func SetupServiceRouter(rdb redis.Cmdable, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				log.Println("Shutdown channel already signaled")
			}
		case "getTestEmail":
			var args []string // ["email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [email]"})
				return
			}
			mail, err := popTestEmail(c.Request.Context(), rdb, args[0])
			if err != nil {
				if err == redis.Nil {
					c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("No test email for %s", args[0])})
					return
				}
				log.Printf("Service API: reading test email for %s: %v", args[0], err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": mail})
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

// popTestEmail polls briefly for the newest captured message to recipient.
func popTestEmail(ctx context.Context, rdb redis.Cmdable, recipient string) (*email.MockMail, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := email.MockMailKey(recipient)
	var data string
	var err error
	for i := 0; i < 10; i++ {
		data, err = rdb.LPop(ctx, key).Result()
		if err != redis.Nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	var mail email.MockMail
	if err := json.Unmarshal([]byte(data), &mail); err != nil {
		return nil, fmt.Errorf("failed to parse stored email: %w", err)
	}
	return &mail, nil
}
