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
	utils "github.com/saccosmart/saccosmart-go/utils"
)

// ---------------- UPLOAD ----------------
func UploadDocument(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
			return
		}

		title := c.PostForm("title")
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
			return
		}
		defer file.Close()

		fileURL, err := utils.UploadToCloudinary(file, fileHeader)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not upload file"})
			return
		}

		doc := models.Document{
			ID:        primitive.NewObjectID(),
			MemberID:  memberID,
			Title:     title,
			Category:  c.PostForm("category"),
			FileURL:   fileURL,
			CreatedAt: time.Now(),
		}

		col := cfg.MongoClient.Database(cfg.DBName).Collection("documents")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := col.InsertOne(ctx, doc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save document"})
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

// ---------------- LIST ----------------
func ListDocuments(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		col := cfg.MongoClient.Database(cfg.DBName).Collection("documents")
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

		cursor, err := col.Find(ctx, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch documents"})
			return
		}

		var docs []models.Document
		if err := cursor.All(ctx, &docs); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not decode documents"})
			return
		}
		if docs == nil {
			docs = []models.Document{}
		}
		c.JSON(http.StatusOK, docs)
	}
}

// ---------------- DELETE ----------------
func DeleteDocument(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}

		col := cfg.MongoClient.Database(cfg.DBName).Collection("documents")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var doc models.Document
		if err := col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		if !canRead(c, doc.MemberID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your document"})
			return
		}

		if err := utils.DeleteFromCloudinary(doc.FileURL); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not delete file"})
			return
		}
		if _, err := col.DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "document deleted", "id": oid.Hex()})
	}
}
