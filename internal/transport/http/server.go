package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	appsvc "leilaochat/internal/app"
	"leilaochat/internal/bootstrap"
	"leilaochat/internal/cache"
	"leilaochat/internal/platform/rabbitmq"
	"leilaochat/internal/repository"
	"leilaochat/internal/transport/http/handler"
	"leilaochat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     app.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	conversationRepo := repository.NewConversationRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)
	usageRepo := repository.NewUsageRepository(app.MySQL)

	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	turnEvents := rabbitmq.NewTurnEventPublisher(app.MQConn, app.Config.RabbitMQ.TurnEventQueue)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	chatService := appsvc.NewChatService(
		app.MySQL,
		conversationRepo,
		messageRepo,
		app.AssistantClient,
		turnEvents,
		historyCache,
		app.Config.Assistant.AssistantID,
		time.Duration(app.Config.Assistant.PollIntervalSeconds)*time.Second,
		time.Duration(app.Config.Assistant.RunTimeoutSeconds)*time.Second,
	)
	adminService := appsvc.NewAdminService(userRepo, conversationRepo, messageRepo, usageRepo)
	attachmentService := appsvc.NewAttachmentService(app.AssistantClient)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(chatService)
	adminHandler := handler.NewAdminHandler(adminService)
	uploadHandler := handler.NewUploadHandler(attachmentService)

	authJWT := middleware.AuthJWT(app.Config.Auth.JWTSecret, authService)

	api := router.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", authJWT, authHandler.Me)
	authGroup.POST("/logout", authJWT, authHandler.Logout)

	chatGroup := api.Group("/chat")
	chatGroup.Use(authJWT)
	chatGroup.POST("/conversations", chatHandler.CreateConversation)
	chatGroup.GET("/conversations", chatHandler.ListConversations)
	chatGroup.DELETE("/conversations", chatHandler.DeleteAllConversations)
	chatGroup.GET("/conversations/:id", chatHandler.GetConversation)
	chatGroup.PATCH("/conversations/:id", chatHandler.UpdateConversation)
	chatGroup.PUT("/conversations/:id", chatHandler.UpdateConversation)
	chatGroup.DELETE("/conversations/:id", chatHandler.DeleteConversation)
	chatGroup.GET("/conversations/:id/messages", chatHandler.ListMessages)
	chatGroup.POST("/conversations/:id/messages", chatHandler.SendMessage)

	uploadGroup := api.Group("/upload")
	uploadGroup.Use(authJWT)
	uploadGroup.POST("", uploadHandler.Upload)

	adminGroup := api.Group("/admin")
	adminGroup.Use(authJWT, middleware.AdminRequired())
	adminGroup.GET("/dashboard", adminHandler.Dashboard)
	adminGroup.GET("/conversations", adminHandler.ListConversations)
	adminGroup.DELETE("/conversations/:id", adminHandler.DeleteConversation)
	adminGroup.GET("/users", adminHandler.ListUsers)
	adminGroup.POST("/users", adminHandler.CreateUser)
	adminGroup.GET("/users/:id", adminHandler.GetUser)
	adminGroup.PUT("/users/:id", adminHandler.UpdateUser)
	adminGroup.DELETE("/users/:id", adminHandler.DeleteUser)
	adminGroup.GET("/users/:id/conversations", adminHandler.ListUserConversations)

	return router
}
