package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/saccosmart/saccosmart-go/config"
	middleware "github.com/saccosmart/saccosmart-go/middleware"
	models "github.com/saccosmart/saccosmart-go/models"
	utils "github.com/saccosmart/saccosmart-go/utils"
)

// ---------------- LIST ----------------
func ListNotifications(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
			return
		}

		col := cfg.MongoClient.Database(cfg.DBName).Collection("notifications")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cursor, err := col.Find(ctx, bson.M{"member_id": oid})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch notifications"})
			return
		}

		var notifications []models.Notification
		if err := cursor.All(ctx, &notifications); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not decode notifications"})
			return
		}
		if notifications == nil {
			notifications = []models.Notification{}
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// ---------------- MARK READ ----------------
func MarkNotificationRead(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
			return
		}
		memberID, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
			return
		}

		col := cfg.MongoClient.Database(cfg.DBName).Collection("notifications")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		res, err := col.UpdateOne(ctx,
			bson.M{"_id": oid, "member_id": memberID},
			bson.M{"$set": bson.M{"read": true}})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification"})
			return
		}
		if res.MatchedCount == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "notification read", "id": oid.Hex()})
	}
}

// SettlementNotifier builds the callback the settlement service fires after
// a contribution actually transitions. It records an in-app notification
// and sends email/SMS best-effort; delivery failures never affect the
// ledger.
func SettlementNotifier(cfg *config.Config) func(ctx context.Context, contribution *models.Contribution) {
	return func(_ context.Context, contribution *models.Contribution) {
		if cfg.MongoClient == nil {
			return
		}

		title := "Contribution received"
		body := fmt.Sprintf("Your contribution of KES %.2f (%s) was confirmed.", contribution.Amount, contribution.PaymentRef)
		if contribution.Status == models.StatusFailed {
			title = "Contribution failed"
			body = fmt.Sprintf("Your contribution of KES %.2f (%s) failed: %s.", contribution.Amount, contribution.PaymentRef, contribution.RejectionReason)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db := cfg.MongoClient.Database(cfg.DBName)
		_, err := db.Collection("notifications").InsertOne(ctx, models.Notification{
			ID:        primitive.NewObjectID(),
			MemberID:  contribution.MemberID,
			Title:     title,
			Body:      body,
			Kind:      "CONTRIBUTION",
			CreatedAt: time.Now(),
		})
		if err != nil {
			return
		}

		var user models.User
		if err := db.Collection("users").FindOne(ctx, bson.M{"_id": contribution.MemberID}).Decode(&user); err != nil {
			return
		}
		go func() {
			if user.Email != "" {
				_ = utils.SendEmail(user.Email, user.FullName, title, "<p>"+body+"</p>")
			}
			if user.Phone != "" {
				_ = utils.SendSMS(user.Phone, body)
			}
		}()
	}
}
