package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/saccosmart/saccosmart-go/models"
	payments "github.com/saccosmart/saccosmart-go/payments"
	store "github.com/saccosmart/saccosmart-go/store"
)

func insertAged(t *testing.T, st *store.MemoryContributions, ref string, age time.Duration) {
	t.Helper()
	created := time.Now().Add(-age)
	require.NoError(t, st.Insert(context.Background(), &models.Contribution{
		ID:         primitive.NewObjectID(),
		MemberID:   primitive.NewObjectID(),
		Amount:     100,
		Currency:   "KES",
		Method:     models.MethodBank,
		PaymentRef: ref,
		Status:     models.StatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}))
}

func TestSweepOnce_FailsOnlyStalePending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemoryContributions()
	svc := NewSettlement(st, nil, nil, 0)

	insertAged(t, st, "stale", 48*time.Hour)
	insertAged(t, st, "fresh", time.Hour)
	insertAged(t, st, "confirmed", 48*time.Hour)

	_, err := svc.Settle(ctx, payments.SettlementEvent{Reference: "confirmed", Outcome: payments.OutcomeSuccess}, "staff-1")
	require.NoError(t, err)

	NewSweeper(st, time.Hour, 24*time.Hour).SweepOnce(ctx)

	c, err := st.GetByReference(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, c.Status)
	require.Equal(t, "system", c.RejectedBy)
	require.Contains(t, c.RejectionReason, "expired")

	c, err = st.GetByReference(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, c.Status)

	// A settlement that raced ahead of the sweep is never overwritten.
	c, err = st.GetByReference(ctx, "confirmed")
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, c.Status)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	st := store.NewMemoryContributions()
	sweeper := NewSweeper(st, 10*time.Millisecond, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
