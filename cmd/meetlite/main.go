package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/meetlite/meetlite/config"
	"github.com/meetlite/meetlite/internal/handlers"
	"github.com/meetlite/meetlite/internal/middleware"
	"github.com/meetlite/meetlite/internal/redis"
	"github.com/meetlite/meetlite/internal/relay"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	log.Println("Redis connection established")

	// The relay owns all live signaling state; Redis only mirrors it for the
	// ops API.
	rly := relay.New(redis.Presence{})

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

	// Ops API
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Meeting lookup (public) — lets an invite link be checked before
		// connecting
		apiGroup.GET("/meetings/:meetId", handlers.GetMeeting)

		// Admin surface (requires JWT)
		apiGroup.GET("/meetings", middleware.JWTAuth(cfg.JWTSecret), handlers.ListMeetings)
		apiGroup.DELETE("/meetings/:meetId", middleware.JWTAuth(cfg.JWTSecret), handlers.DeleteMeeting)
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", handlers.HandleSignaling(rly))
	}

	// Start server
	log.Printf("Starting meetlite signaling server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
