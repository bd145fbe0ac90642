package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/saccosmart/saccosmart-go/config"
	middleware "github.com/saccosmart/saccosmart-go/middleware"
	models "github.com/saccosmart/saccosmart-go/models"
)

// ---------------- CREATE ----------------
func CreateTicket(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Subject string `json:"subject" binding:"required"`
			Message string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		memberID, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
			return
		}

		now := time.Now()
		ticket := models.Ticket{
			ID:        primitive.NewObjectID(),
			MemberID:  memberID,
			Subject:   input.Subject,
			Message:   input.Message,
			Status:    models.TicketOpen,
			CreatedAt: now,
			UpdatedAt: now,
		}

		col := cfg.MongoClient.Database(cfg.DBName).Collection("tickets")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := col.InsertOne(ctx, ticket); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create ticket"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": ticket.ID.Hex(), "message": "ticket created"})
	}
}

// ---------------- LIST ----------------
func ListTickets(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		col := cfg.MongoClient.Database(cfg.DBName).Collection("tickets")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		filter := bson.M{}
		if c.GetString(middleware.CtxRole) == models.RoleMember {
			oid, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
				return
			}
			filter["member_id"] = oid
		}
		if status := c.Query("status"); status != "" {
			filter["status"] = status
		}

		cursor, err := col.Find(ctx, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch tickets"})
			return
		}

		var tickets []models.Ticket
		if err := cursor.All(ctx, &tickets); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not decode tickets"})
			return
		}
		if tickets == nil {
			tickets = []models.Ticket{}
		}
		c.JSON(http.StatusOK, tickets)
	}
}

// ---------------- UPDATE ----------------
// Staff reply and move a ticket along OPEN -> IN_PROGRESS -> RESOLVED.
func UpdateTicket(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
			return
		}

		var input struct {
			Status string `json:"status"`
			Reply  string `json:"reply"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		update := bson.M{"updated_at": time.Now()}
		switch input.Status {
		case "":
		case models.TicketInProgress, models.TicketResolved:
			update["status"] = input.Status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket status"})
			return
		}
		if input.Reply != "" {
			update["reply"] = input.Reply
		}
		if len(update) == 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
			return
		}

		col := cfg.MongoClient.Database(cfg.DBName).Collection("tickets")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		res, err := col.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": update})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update ticket"})
			return
		}
		if res.MatchedCount == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ticket updated", "id": oid.Hex()})
	}
}
