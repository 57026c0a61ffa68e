package main

import (
	"log"

	"github.com/pairwave/relay/config"
	"github.com/pairwave/relay/internal/handlers"
	"github.com/pairwave/relay/internal/middleware"
	"github.com/pairwave/relay/internal/presence"
	"github.com/pairwave/relay/internal/registry"
	"github.com/pairwave/relay/internal/relay"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Optional redis presence mirror
	mirror, err := presence.Connect(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if mirror != nil {
		defer mirror.Close()
		log.Println("Redis presence mirror enabled")
	}

	reg := registry.New()
	rl := relay.New(reg)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Operator API (authenticated)
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Live connection listing (requires JWT)
		apiGroup.GET("/connections", middleware.JWTAuth(cfg.JWTSecret), handlers.ListConnections(reg, mirror))
	}

	// WebSocket relay endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/connect", handlers.HandleConnection(reg, rl, mirror))
	}

	// Start server
	log.Printf("Starting relay server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
