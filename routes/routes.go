package routes

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	config "github.com/saccosmart/saccosmart-go/config"
	controllers "github.com/saccosmart/saccosmart-go/controllers"
	middleware "github.com/saccosmart/saccosmart-go/middleware"
	store "github.com/saccosmart/saccosmart-go/store"
)

func SetupRoutes(r *gin.Engine, cfg *config.Config) {
	r.Use(cors.Default())

	// public
	r.POST("/auth/register", controllers.Register(cfg))
	r.POST("/auth/login", controllers.Login(cfg))
	r.POST("/auth/refresh", controllers.RefreshToken(cfg))

	// provider callbacks (authenticated by payload references, not JWT)
	r.POST("/payments/mpesa/callback", controllers.MpesaCallback(cfg))
	r.POST("/payments/card/webhook", controllers.CardWebhook(cfg))

	// protected
	auth := middleware.AuthMiddleware(cfg)
	staff := middleware.RequireStaff()

	// settlement by payment reference
	payments := r.Group("/payments")
	payments.Use(auth)
	{
		payments.GET("/verify/:reference", controllers.VerifyContribution(cfg))
		payments.POST("/:reference/confirm", staff, controllers.StaffSettleContribution(cfg, store.OutcomeSuccess))
		payments.POST("/:reference/reject", staff, controllers.StaffSettleContribution(cfg, store.OutcomeFailed))
	}

	users := r.Group("/users")
	users.Use(auth)
	{
		users.GET("", staff, controllers.ListUsers(cfg))
		users.GET("/:id", controllers.GetUser(cfg))
		users.PATCH("/:id", controllers.UpdateUser(cfg))
		users.DELETE("/:id", staff, controllers.DeactivateUser(cfg))
	}

	contributions := r.Group("/contributions")
	contributions.Use(auth)
	{
		contributions.POST("", controllers.InitiateContribution(cfg))
		contributions.GET("", controllers.ListContributions(cfg))
		contributions.GET("/summary", controllers.ContributionSummary(cfg))
		contributions.GET("/trend", controllers.ContributionTrend(cfg))
		contributions.GET("/:id", controllers.GetContribution(cfg))
	}

	loans := r.Group("/loans")
	loans.Use(auth)
	{
		loans.POST("", controllers.ApplyLoan(cfg))
		loans.GET("", controllers.ListLoans(cfg))
		loans.GET("/:id", controllers.GetLoan(cfg))
		loans.POST("/:id/approve", staff, controllers.DecideLoan(cfg, true))
		loans.POST("/:id/reject", staff, controllers.DecideLoan(cfg, false))
		loans.POST("/:id/repay", controllers.RepayLoan(cfg))
	}

	documents := r.Group("/documents")
	documents.Use(auth)
	{
		documents.POST("", controllers.UploadDocument(cfg))
		documents.GET("", controllers.ListDocuments(cfg))
		documents.DELETE("/:id", controllers.DeleteDocument(cfg))
	}

	tickets := r.Group("/tickets")
	tickets.Use(auth)
	{
		tickets.POST("", controllers.CreateTicket(cfg))
		tickets.GET("", controllers.ListTickets(cfg))
		tickets.PATCH("/:id", staff, controllers.UpdateTicket(cfg))
	}

	notifs := r.Group("/notifications")
	notifs.Use(auth)
	{
		notifs.GET("", controllers.ListNotifications(cfg))
		notifs.PATCH("/:id/read", controllers.MarkNotificationRead(cfg))
	}
}
