package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/saccosmart/saccosmart-go/config"
	middleware "github.com/saccosmart/saccosmart-go/middleware"
	models "github.com/saccosmart/saccosmart-go/models"
	services "github.com/saccosmart/saccosmart-go/services"
	store "github.com/saccosmart/saccosmart-go/store"
)

// ---------------- APPLY ----------------
func ApplyLoan(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Amount     float64 `json:"amount"`
			TermMonths int     `json:"term_months"`
			Purpose    string  `json:"purpose"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if input.Amount <= 0 || input.TermMonths <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount and term_months must be greater than 0"})
			return
		}

		memberID, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
			return
		}

		now := time.Now()
		loan := models.Loan{
			ID:         primitive.NewObjectID(),
			MemberID:   memberID,
			Amount:     input.Amount,
			TermMonths: input.TermMonths,
			Purpose:    input.Purpose,
			Status:     models.LoanApplied,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		col := cfg.MongoClient.Database(cfg.DBName).Collection("loans")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := col.InsertOne(ctx, loan); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create loan application"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": loan.ID.Hex(), "message": "loan application submitted"})
	}
}

// ---------------- LIST ----------------
func ListLoans(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		col := cfg.MongoClient.Database(cfg.DBName).Collection("loans")
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
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch loans"})
			return
		}

		var loans []models.Loan
		if err := cursor.All(ctx, &loans); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not decode loans"})
			return
		}
		if loans == nil {
			loans = []models.Loan{}
		}

		for i := range loans {
			enrichLoan(ctx, cfg, &loans[i])
		}
		c.JSON(http.StatusOK, loans)
	}
}

// ---------------- GET ----------------
func GetLoan(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
			return
		}

		var loan models.Loan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = cfg.MongoClient.Database(cfg.DBName).
			Collection("loans").
			FindOne(ctx, bson.M{"_id": oid}).
			Decode(&loan)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "loan not found"})
			return
		}

		if !canRead(c, loan.MemberID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your loan"})
			return
		}

		enrichLoan(ctx, cfg, &loan)
		c.JSON(http.StatusOK, loan)
	}
}

// enrichLoan fills the derived repayment fields. Only SUCCESS repayments
// count, the same realized-funds rule the dashboard uses.
func enrichLoan(ctx context.Context, cfg *config.Config, loan *models.Loan) {
	summary, err := cfg.Contributions.Aggregate(ctx, store.ContributionFilter{LoanID: loan.ID})
	if err != nil {
		return
	}
	loan.Repaid = summary.Total
	loan.Outstanding = loan.Amount - summary.Total
	if loan.Outstanding < 0 {
		loan.Outstanding = 0
	}
}

// ---------------- DECIDE ----------------
// Staff approve or reject an application. Terminal like a settlement: an
// already-decided loan is not re-decided.
func DecideLoan(cfg *config.Config, approve bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
			return
		}

		var input struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&input)
		if !approve && input.Reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rejection reason is required"})
			return
		}

		status := models.LoanApproved
		if !approve {
			status = models.LoanRejected
		}
		now := time.Now()

		col := cfg.MongoClient.Database(cfg.DBName).Collection("loans")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Conditional on APPLIED so two racing decisions can't both land.
		res, err := col.UpdateOne(ctx,
			bson.M{"_id": oid, "status": models.LoanApplied},
			bson.M{"$set": bson.M{
				"status":          status,
				"decided_by":      c.GetString(middleware.CtxUserID),
				"decided_at":      now,
				"decision_reason": input.Reason,
				"updated_at":      now,
			}})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decide loan"})
			return
		}
		if res.MatchedCount == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "loan not found or already decided"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "loan " + status, "id": oid.Hex()})
	}
}

// ---------------- REPAY ----------------
// Repayment is a contribution linked to the loan: it goes through the same
// initiate/settle flow as any other funds-in event.
func RepayLoan(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		loanID, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
			return
		}

		var input struct {
			Amount float64 `json:"amount"`
			Method string  `json:"method"`
			Phone  string  `json:"phone"`
			Email  string  `json:"email"`
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

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var loan models.Loan
		err = cfg.MongoClient.Database(cfg.DBName).
			Collection("loans").
			FindOne(ctx, bson.M{"_id": loanID, "member_id": memberID}).
			Decode(&loan)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "loan not found"})
			return
		}
		if loan.Status != models.LoanApproved {
			c.JSON(http.StatusBadRequest, gin.H{"error": "loan is not open for repayment"})
			return
		}

		contribution, err := cfg.Settlements.Initiate(c.Request.Context(), services.InitiateRequest{
			MemberID:  memberID,
			LoanID:    loanID,
			Amount:    input.Amount,
			Method:    input.Method,
			Phone:     input.Phone,
			Email:     input.Email,
			Narrative: "loan repayment",
		})
		if err != nil {
			if errors.Is(err, store.ErrProviderUnavailable) && contribution != nil {
				c.JSON(http.StatusBadGateway, gin.H{
					"error":             "payment provider unavailable, repayment recorded as pending",
					"payment_reference": contribution.PaymentRef,
				})
				return
			}
			c.JSON(statusFor(err), gin.H{"error": "could not initiate repayment"})
			return
		}

		resp := gin.H{
			"id":                contribution.ID.Hex(),
			"payment_reference": contribution.PaymentRef,
			"status":            contribution.Status,
			"message":           "repayment initiated",
		}
		if contribution.CheckoutURL != "" {
			resp["checkout_url"] = contribution.CheckoutURL
		}
		c.JSON(http.StatusCreated, resp)
	}
}
