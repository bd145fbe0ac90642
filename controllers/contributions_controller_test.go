package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/saccosmart/saccosmart-go/config"
	middleware "github.com/saccosmart/saccosmart-go/middleware"
	models "github.com/saccosmart/saccosmart-go/models"
	payments "github.com/saccosmart/saccosmart-go/payments"
	services "github.com/saccosmart/saccosmart-go/services"
	store "github.com/saccosmart/saccosmart-go/store"
	utils "github.com/saccosmart/saccosmart-go/utils"
)

type stubPush struct {
	checkoutID string
	queryEvent *payments.SettlementEvent
}

func (s *stubPush) STKPush(ctx context.Context, phone string, amount float64, account string) (string, error) {
	return s.checkoutID, nil
}

func (s *stubPush) STKQuery(ctx context.Context, checkoutRequestID string) (*payments.SettlementEvent, error) {
	return s.queryEvent, nil
}

type testEnv struct {
	cfg    *config.Config
	router *gin.Engine
	ledger *store.MemoryContributions
	push   *stubPush
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ledger := store.NewMemoryContributions()
	push := &stubPush{checkoutID: "ws_CO_TEST1"}
	cfg := &config.Config{
		JWTSecret:     "test-secret",
		AccessTTL:     15 * time.Minute,
		Contributions: ledger,
		Settlements:   services.NewSettlement(ledger, push, nil, time.Second),
	}

	r := gin.New()
	r.POST("/payments/mpesa/callback", MpesaCallback(cfg))
	r.POST("/payments/card/webhook", CardWebhook(cfg))

	auth := middleware.AuthMiddleware(cfg)
	staff := middleware.RequireStaff()
	r.POST("/contributions", auth, InitiateContribution(cfg))
	r.GET("/contributions", auth, ListContributions(cfg))
	r.GET("/contributions/summary", auth, ContributionSummary(cfg))
	r.GET("/contributions/trend", auth, ContributionTrend(cfg))
	r.GET("/payments/verify/:reference", auth, VerifyContribution(cfg))
	r.POST("/payments/:reference/confirm", auth, staff, StaffSettleContribution(cfg, store.OutcomeSuccess))
	r.POST("/payments/:reference/reject", auth, staff, StaffSettleContribution(cfg, store.OutcomeFailed))

	return &testEnv{cfg: cfg, router: r, ledger: ledger, push: push}
}

func (e *testEnv) token(t *testing.T, userID primitive.ObjectID, role string) string {
	t.Helper()
	token, err := utils.GenerateToken(e.cfg.JWTSecret, userID.Hex(), role, "access", e.cfg.AccessTTL)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestInitiateContribution_Cash(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	member := primitive.NewObjectID()

	w := env.do(t, http.MethodPost, "/contributions", env.token(t, member, models.RoleMember),
		gin.H{"amount": 500, "method": models.MethodCash})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		PaymentReference string `json:"payment_reference"`
		Status           string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, models.StatusPending, resp.Status)
	require.NotEmpty(t, resp.PaymentReference)

	stored, err := env.ledger.GetByReference(context.Background(), resp.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, member, stored.MemberID)
}

func TestInitiateContribution_RejectsBadAmount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	token := env.token(t, primitive.NewObjectID(), models.RoleMember)

	for _, amount := range []float64{0, -10} {
		w := env.do(t, http.MethodPost, "/contributions", token,
			gin.H{"amount": amount, "method": models.MethodCash})
		require.Equal(t, http.StatusBadRequest, w.Code)
	}

	all, err := env.ledger.List(context.Background(), store.ContributionFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestInitiateContribution_RequiresAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/contributions", "", gin.H{"amount": 100, "method": models.MethodCash})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMpesaCallback_IdempotentDelivery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	member := primitive.NewObjectID()

	w := env.do(t, http.MethodPost, "/contributions", env.token(t, member, models.RoleMember),
		gin.H{"amount": 1000, "method": models.MethodMpesa, "phone": "254700000001"})
	require.Equal(t, http.StatusCreated, w.Code)

	callback := fmt.Sprintf(`{"Body":{"stkCallback":{"CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`, env.push.checkoutID)

	first := env.do(t, http.MethodPost, "/payments/mpesa/callback", "", json.RawMessage(callback))
	require.Equal(t, http.StatusOK, first.Code)

	settled, err := env.ledger.GetByReference(context.Background(), env.push.checkoutID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, settled.Status)
	verifiedAt := settled.VerifiedAt

	// Provider retries the same callback: still 200, record untouched.
	second := env.do(t, http.MethodPost, "/payments/mpesa/callback", "", json.RawMessage(callback))
	require.Equal(t, http.StatusOK, second.Code)

	settled, err = env.ledger.GetByReference(context.Background(), env.push.checkoutID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, settled.Status)
	require.Equal(t, verifiedAt.UnixNano(), settled.VerifiedAt.UnixNano())
}

func TestMpesaCallback_ConflictingOutcomeIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	member := primitive.NewObjectID()

	w := env.do(t, http.MethodPost, "/contributions", env.token(t, member, models.RoleMember),
		gin.H{"amount": 1000, "method": models.MethodMpesa, "phone": "254700000001"})
	require.Equal(t, http.StatusCreated, w.Code)

	success := fmt.Sprintf(`{"Body":{"stkCallback":{"CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok"}}}`, env.push.checkoutID)
	failure := fmt.Sprintf(`{"Body":{"stkCallback":{"CheckoutRequestID":%q,"ResultCode":1032,"ResultDesc":"cancelled"}}}`, env.push.checkoutID)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/payments/mpesa/callback", "", json.RawMessage(success)).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/payments/mpesa/callback", "", json.RawMessage(failure)).Code)

	settled, err := env.ledger.GetByReference(context.Background(), env.push.checkoutID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, settled.Status)
}

func TestMpesaCallback_UnknownReferenceAcked(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	payload := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_GHOST","ResultCode":0,"ResultDesc":"ok"}}}`
	w := env.do(t, http.MethodPost, "/payments/mpesa/callback", "", json.RawMessage(payload))
	require.Equal(t, http.StatusOK, w.Code)

	all, err := env.ledger.List(context.Background(), store.ContributionFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestVerifyContribution_ReturnsCurrentState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	member := primitive.NewObjectID()
	token := env.token(t, member, models.RoleMember)

	w := env.do(t, http.MethodPost, "/contributions", token,
		gin.H{"amount": 1000, "method": models.MethodMpesa, "phone": "254700000001"})
	require.Equal(t, http.StatusCreated, w.Code)

	// Provider reports success on query; verify settles the row.
	env.push.queryEvent = &payments.SettlementEvent{
		Reference: env.push.checkoutID,
		Outcome:   payments.OutcomeSuccess,
		Receipt:   "NLJ7RT61SV",
	}

	w = env.do(t, http.MethodGet, "/payments/verify/"+env.push.checkoutID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got models.Contribution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, models.StatusSuccess, got.Status)
	require.Equal(t, "NLJ7RT61SV", got.MpesaReceipt)
}

func TestVerifyContribution_ForbiddenForOtherMember(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	owner := primitive.NewObjectID()
	stranger := primitive.NewObjectID()

	w := env.do(t, http.MethodPost, "/contributions", env.token(t, owner, models.RoleMember),
		gin.H{"amount": 100, "method": models.MethodCash})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		PaymentReference string `json:"payment_reference"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = env.do(t, http.MethodGet, "/payments/verify/"+resp.PaymentReference, env.token(t, stranger, models.RoleMember), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestStaffSettle_ConfirmCash(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	member := primitive.NewObjectID()
	treasurer := primitive.NewObjectID()

	w := env.do(t, http.MethodPost, "/contributions", env.token(t, member, models.RoleMember),
		gin.H{"amount": 700, "method": models.MethodCash})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		PaymentReference string `json:"payment_reference"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// Members cannot settle.
	w = env.do(t, http.MethodPost, "/payments/"+resp.PaymentReference+"/confirm", env.token(t, member, models.RoleMember), gin.H{"receipt": "RCT-9"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/payments/"+resp.PaymentReference+"/confirm", env.token(t, treasurer, models.RoleTreasurer), gin.H{"receipt": "RCT-9"})
	require.Equal(t, http.StatusOK, w.Code)

	settled, err := env.ledger.GetByReference(context.Background(), resp.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, settled.Status)
	require.Equal(t, treasurer.Hex(), settled.VerifiedBy)
}

func TestStaffSettle_RejectRequiresReason(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	member := primitive.NewObjectID()
	treasurer := env.token(t, primitive.NewObjectID(), models.RoleTreasurer)

	w := env.do(t, http.MethodPost, "/contributions", env.token(t, member, models.RoleMember),
		gin.H{"amount": 700, "method": models.MethodCheque})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		PaymentReference string `json:"payment_reference"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = env.do(t, http.MethodPost, "/payments/"+resp.PaymentReference+"/reject", treasurer, gin.H{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/payments/"+resp.PaymentReference+"/reject", treasurer, gin.H{"reason": "cheque bounced"})
	require.Equal(t, http.StatusOK, w.Code)

	settled, err := env.ledger.GetByReference(context.Background(), resp.PaymentReference)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, settled.Status)
	require.Equal(t, "cheque bounced", settled.RejectionReason)
}

func TestContributionSummary_MemberScoped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	member := primitive.NewObjectID()
	other := primitive.NewObjectID()

	seed := func(owner primitive.ObjectID, ref string, amount float64, outcome string) {
		now := time.Now()
		require.NoError(t, env.ledger.Insert(ctx, &models.Contribution{
			ID: primitive.NewObjectID(), MemberID: owner, Amount: amount, Currency: "KES",
			Method: models.MethodCash, PaymentRef: ref, Status: models.StatusPending,
			CreatedAt: now, UpdatedAt: now,
		}))
		if outcome != "" {
			_, err := env.ledger.Settle(ctx, ref, store.Settlement{Outcome: outcome, Actor: "staff-1"})
			require.NoError(t, err)
		}
	}

	seed(member, "m-success", 100, store.OutcomeSuccess)
	seed(member, "m-pending", 50, "")
	seed(member, "m-failed", 25, store.OutcomeFailed)
	seed(other, "o-success", 999, store.OutcomeSuccess)

	w := env.do(t, http.MethodGet, "/contributions/summary", env.token(t, member, models.RoleMember), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary store.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Equal(t, int64(1), summary.Count)
	require.Equal(t, 100.0, summary.Total)
}

func TestListContributions_ETag(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	member := primitive.NewObjectID()
	token := env.token(t, member, models.RoleMember)

	w := env.do(t, http.MethodPost, "/contributions", token, gin.H{"amount": 100, "method": models.MethodCash})
	require.Equal(t, http.StatusCreated, w.Code)

	first := env.do(t, http.MethodGet, "/contributions", token, nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/contributions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("If-None-Match", etag)
	second := httptest.NewRecorder()
	env.router.ServeHTTP(second, req)
	require.Equal(t, http.StatusNotModified, second.Code)
}
