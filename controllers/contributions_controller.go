package controllers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/saccosmart/saccosmart-go/config"
	middleware "github.com/saccosmart/saccosmart-go/middleware"
	models "github.com/saccosmart/saccosmart-go/models"
	payments "github.com/saccosmart/saccosmart-go/payments"
	services "github.com/saccosmart/saccosmart-go/services"
	store "github.com/saccosmart/saccosmart-go/store"
	utils "github.com/saccosmart/saccosmart-go/utils"
)

// statusFor maps ledger errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownReference):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateReference):
		return http.StatusConflict
	case errors.Is(err, store.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ---------------- INITIATE ----------------
func InitiateContribution(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Amount    float64 `json:"amount"`
			Method    string  `json:"method"`
			Phone     string  `json:"phone"`
			Email     string  `json:"email"`
			LoanID    string  `json:"loan_id"`
			Narrative string  `json:"narrative"`
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

		req := services.InitiateRequest{
			MemberID:  memberID,
			Amount:    input.Amount,
			Method:    input.Method,
			Phone:     input.Phone,
			Email:     input.Email,
			Narrative: input.Narrative,
		}
		if input.LoanID != "" {
			if loanID, err := primitive.ObjectIDFromHex(input.LoanID); err == nil {
				req.LoanID = loanID
			}
		}

		contribution, err := cfg.Settlements.Initiate(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, store.ErrProviderUnavailable) && contribution != nil {
				// The PENDING row exists; the member can verify by reference
				// once the provider recovers.
				c.JSON(http.StatusBadGateway, gin.H{
					"error":             "payment provider unavailable, contribution recorded as pending",
					"payment_reference": contribution.PaymentRef,
				})
				return
			}
			c.JSON(statusFor(err), gin.H{"error": "could not initiate contribution"})
			return
		}

		resp := gin.H{
			"id":                contribution.ID.Hex(),
			"payment_reference": contribution.PaymentRef,
			"status":            contribution.Status,
			"message":           "contribution initiated",
		}
		if contribution.CheckoutURL != "" {
			resp["checkout_url"] = contribution.CheckoutURL
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// ---------------- LIST ----------------
func ListContributions(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.ContributionFilter{
			Status: c.Query("status"),
			Method: c.Query("method"),
			From:   parseDate(c.Query("from")),
			To:     parseDate(c.Query("to")),
		}

		// Members only see their own ledger; staff may filter by member.
		role := c.GetString(middleware.CtxRole)
		if role == models.RoleMember {
			oid, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
				return
			}
			filter.MemberID = oid
		} else if memberID := c.Query("member_id"); memberID != "" {
			if oid, err := primitive.ObjectIDFromHex(memberID); err == nil {
				filter.MemberID = oid
			}
		}

		contributions, err := cfg.Contributions.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not fetch contributions"})
			return
		}

		if len(contributions) == 0 {
			c.JSON(http.StatusOK, []models.Contribution{})
			return
		}

		// --- Pick the most recently updated contribution ---
		latest := contributions[0]
		for _, ctn := range contributions {
			if ctn.UpdatedAt.After(latest.UpdatedAt) {
				latest = ctn
			}
		}

		// --- Generate ETag from latest contribution ---
		etag := utils.GenerateETag(latest.ID, latest.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)
		c.Header("Last-Modified", latest.UpdatedAt.UTC().Format(http.TimeFormat))

		c.JSON(http.StatusOK, contributions)
	}
}

// ---------------- GET ----------------
func GetContribution(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		oid, err := primitive.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contribution id"})
			return
		}

		contribution, err := cfg.Contributions.GetByID(c.Request.Context(), oid)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "contribution not found"})
			return
		}

		if !canRead(c, contribution.MemberID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your contribution"})
			return
		}

		etag := utils.GenerateETag(contribution.ID, contribution.UpdatedAt)
		if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
			c.Status(http.StatusNotModified)
			return
		}
		c.Header("ETag", etag)

		c.JSON(http.StatusOK, contribution)
	}
}

// ---------------- VERIFY ----------------
// Client-triggered poll: returns the current status, refreshing a PENDING
// mobile-money push from the provider first.
func VerifyContribution(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := c.Param("reference")
		if ref == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payment reference is required"})
			return
		}

		contribution, err := cfg.Settlements.Verify(c.Request.Context(), ref)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": "unknown payment reference"})
			return
		}

		if !canRead(c, contribution.MemberID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your contribution"})
			return
		}
		c.JSON(http.StatusOK, contribution)
	}
}

// ---------------- STAFF SETTLE ----------------
// Manual confirmation for CASH, BANK and CHEQUE contributions (or provider
// rows the staff reconciled out of band).
func StaffSettleContribution(cfg *config.Config, outcome string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Receipt string `json:"receipt"`
			Reason  string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&input)

		if outcome == store.OutcomeFailed && input.Reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rejection reason is required"})
			return
		}

		ev := payments.SettlementEvent{
			Reference: c.Param("reference"),
			Outcome:   outcome,
			Receipt:   input.Receipt,
			Reason:    input.Reason,
		}
		contribution, err := cfg.Settlements.Settle(c.Request.Context(), ev, c.GetString(middleware.CtxUserID))
		if err != nil && !errors.Is(err, store.ErrAlreadySettled) {
			c.JSON(statusFor(err), gin.H{"error": "could not settle contribution"})
			return
		}
		c.JSON(http.StatusOK, contribution)
	}
}

// ---------------- PROVIDER CALLBACKS ----------------
// MpesaCallback receives the asynchronous Daraja STK result. The provider
// retries on non-200, so unknown references are logged and ACKed rather
// than surfaced: a 4xx here would just make Daraja hammer us with a
// payload we will never recognize.
func MpesaCallback(cfg *config.Config) gin.HandlerFunc {
	return providerCallback(cfg, payments.KindMpesa, services.ActorMpesa)
}

// CardWebhook receives the card provider's charge webhook.
func CardWebhook(cfg *config.Config) gin.HandlerFunc {
	return providerCallback(cfg, payments.KindCard, services.ActorCardGateway)
}

func providerCallback(cfg *config.Config, kind, actor string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "unreadable body"})
			return
		}

		ev, err := payments.Normalize(kind, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "malformed payload"})
			return
		}

		_, err = cfg.Settlements.Settle(c.Request.Context(), *ev, actor)
		if err != nil && !errors.Is(err, store.ErrAlreadySettled) && !errors.Is(err, store.ErrUnknownReference) {
			c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "settlement failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
	}
}

// ---------------- DASHBOARD ----------------
func ContributionSummary(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := dashboardFilter(c)
		if !ok {
			return
		}
		summary, err := cfg.Settlements.Aggregate(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not aggregate contributions"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func ContributionTrend(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := dashboardFilter(c)
		if !ok {
			return
		}
		trend, err := cfg.Settlements.Trend(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not aggregate contributions"})
			return
		}
		c.JSON(http.StatusOK, trend)
	}
}

func dashboardFilter(c *gin.Context) (store.ContributionFilter, bool) {
	filter := store.ContributionFilter{
		From: parseDate(c.Query("from")),
		To:   parseDate(c.Query("to")),
	}
	if c.GetString(middleware.CtxRole) == models.RoleMember {
		oid, err := primitive.ObjectIDFromHex(c.GetString(middleware.CtxUserID))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid member id"})
			return filter, false
		}
		filter.MemberID = oid
	} else if memberID := c.Query("member_id"); memberID != "" {
		if oid, err := primitive.ObjectIDFromHex(memberID); err == nil {
			filter.MemberID = oid
		}
	}
	return filter, true
}

// canRead reports whether the caller may see a record owned by memberID.
func canRead(c *gin.Context, memberID primitive.ObjectID) bool {
	role := c.GetString(middleware.CtxRole)
	if role == models.RoleAdmin || role == models.RoleTreasurer {
		return true
	}
	return c.GetString(middleware.CtxUserID) == memberID.Hex()
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}
