package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/saccosmart/saccosmart-go/models"
)

func pendingContribution(ref string, amount float64) *models.Contribution {
	now := time.Now()
	return &models.Contribution{
		ID:         primitive.NewObjectID(),
		MemberID:   primitive.NewObjectID(),
		Amount:     amount,
		Currency:   "KES",
		Method:     models.MethodMpesa,
		PaymentRef: ref,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestInsert_DuplicateReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()

	require.NoError(t, s.Insert(ctx, pendingContribution("ref-1", 100)))
	err := s.Insert(ctx, pendingContribution("ref-1", 200))
	require.ErrorIs(t, err, ErrDuplicateReference)
}

func TestSettle_Transitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var tests = []struct {
		name       string
		settlement Settlement
		wantStatus string
	}{
		{
			name:       "success sets verified fields",
			settlement: Settlement{Outcome: OutcomeSuccess, Actor: "mpesa", Receipt: "NLJ7RT61SV"},
			wantStatus: models.StatusSuccess,
		},
		{
			name:       "failed sets rejected fields",
			settlement: Settlement{Outcome: OutcomeFailed, Actor: "mpesa", Reason: "cancelled by user"},
			wantStatus: models.StatusFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewMemoryContributions()
			require.NoError(t, s.Insert(ctx, pendingContribution("ref-1", 100)))

			c, err := s.Settle(ctx, "ref-1", tt.settlement)
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, c.Status)

			if tt.wantStatus == models.StatusSuccess {
				require.Equal(t, "mpesa", c.VerifiedBy)
				require.NotNil(t, c.VerifiedAt)
				require.Equal(t, "NLJ7RT61SV", c.MpesaReceipt)
				require.Empty(t, c.RejectedBy)
			} else {
				require.Equal(t, "mpesa", c.RejectedBy)
				require.NotNil(t, c.RejectedAt)
				require.Equal(t, "cancelled by user", c.RejectionReason)
				require.Empty(t, c.VerifiedBy)
			}
		})
	}
}

func TestSettle_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()
	require.NoError(t, s.Insert(ctx, pendingContribution("ref-1", 100)))

	first, err := s.Settle(ctx, "ref-1", Settlement{Outcome: OutcomeSuccess, Actor: "mpesa"})
	require.NoError(t, err)
	require.NotNil(t, first.VerifiedAt)

	// Same callback delivered again: no mutation, same terminal state.
	second, err := s.Settle(ctx, "ref-1", Settlement{Outcome: OutcomeSuccess, Actor: "mpesa"})
	require.ErrorIs(t, err, ErrAlreadySettled)
	require.Equal(t, models.StatusSuccess, second.Status)
	require.Equal(t, first.VerifiedAt.UnixNano(), second.VerifiedAt.UnixNano())
}

func TestSettle_ConflictingOutcomeDoesNotOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()
	require.NoError(t, s.Insert(ctx, pendingContribution("ref-1", 100)))

	_, err := s.Settle(ctx, "ref-1", Settlement{Outcome: OutcomeSuccess, Actor: "mpesa"})
	require.NoError(t, err)

	c, err := s.Settle(ctx, "ref-1", Settlement{Outcome: OutcomeFailed, Actor: "mpesa", Reason: "late failure"})
	require.ErrorIs(t, err, ErrAlreadySettled)
	require.Equal(t, models.StatusSuccess, c.Status)
	require.Empty(t, c.RejectionReason)
}

func TestSettle_UnknownReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()

	_, err := s.Settle(ctx, "never-created", Settlement{Outcome: OutcomeSuccess, Actor: "mpesa"})
	require.ErrorIs(t, err, ErrUnknownReference)

	all, err := s.List(ctx, ContributionFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestSettle_InvalidOutcome(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()
	require.NoError(t, s.Insert(ctx, pendingContribution("ref-1", 100)))

	_, err := s.Settle(ctx, "ref-1", Settlement{Outcome: "maybe", Actor: "mpesa"})
	require.ErrorIs(t, err, ErrValidation)

	c, err := s.GetByReference(ctx, "ref-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, c.Status)
}

func TestSettle_ConcurrentRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()
	require.NoError(t, s.Insert(ctx, pendingContribution("ref-1", 100)))

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Settle(ctx, "ref-1", Settlement{Outcome: OutcomeSuccess, Actor: "mpesa"})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly one attempt mutated; everyone else saw the settled record.
	require.Equal(t, 1, winners)

	c, err := s.GetByReference(ctx, "ref-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, c.Status)
	require.NotNil(t, c.VerifiedAt)
}

func TestRebindReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()
	require.NoError(t, s.Insert(ctx, pendingContribution("provisional", 100)))

	require.NoError(t, s.RebindReference(ctx, "provisional", "ws_CO_123"))

	_, err := s.GetByReference(ctx, "provisional")
	require.ErrorIs(t, err, ErrUnknownReference)

	c, err := s.GetByReference(ctx, "ws_CO_123")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, c.Status)

	// Settled records keep the reference they settled under.
	_, err = s.Settle(ctx, "ws_CO_123", Settlement{Outcome: OutcomeFailed, Actor: "mpesa", Reason: "timeout"})
	require.NoError(t, err)
	require.ErrorIs(t, s.RebindReference(ctx, "ws_CO_123", "other"), ErrUnknownReference)
}

func TestExpirePending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()

	stale := pendingContribution("stale", 100)
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Insert(ctx, stale))

	fresh := pendingContribution("fresh", 50)
	require.NoError(t, s.Insert(ctx, fresh))

	settled := pendingContribution("settled", 75)
	settled.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Insert(ctx, settled))
	_, err := s.Settle(ctx, "settled", Settlement{Outcome: OutcomeSuccess, Actor: "staff-1"})
	require.NoError(t, err)

	swept, err := s.ExpirePending(ctx, time.Now().Add(-24*time.Hour), "expired")
	require.NoError(t, err)
	require.Equal(t, int64(1), swept)

	c, err := s.GetByReference(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, c.Status)
	require.Equal(t, "system", c.RejectedBy)

	c, err = s.GetByReference(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, c.Status)

	c, err = s.GetByReference(ctx, "settled")
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, c.Status)
}

func TestAggregate_SuccessOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()

	confirmed := pendingContribution("a", 100)
	require.NoError(t, s.Insert(ctx, confirmed))
	_, err := s.Settle(ctx, "a", Settlement{Outcome: OutcomeSuccess, Actor: "mpesa"})
	require.NoError(t, err)

	require.NoError(t, s.Insert(ctx, pendingContribution("b", 50)))

	failed := pendingContribution("c", 25)
	require.NoError(t, s.Insert(ctx, failed))
	_, err = s.Settle(ctx, "c", Settlement{Outcome: OutcomeFailed, Actor: "mpesa", Reason: "declined"})
	require.NoError(t, err)

	summary, err := s.Aggregate(ctx, ContributionFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Count)
	require.Equal(t, 100.0, summary.Total)
	require.Equal(t, int64(1), summary.ByMethod[models.MethodMpesa].Count)
}

func TestAggregate_EmptyStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()

	summary, err := s.Aggregate(ctx, ContributionFilter{})
	require.NoError(t, err)
	require.Zero(t, summary.Count)
	require.Zero(t, summary.Total)
	require.Empty(t, summary.ByMethod)

	trend, err := s.Trend(ctx, ContributionFilter{})
	require.NoError(t, err)
	require.Empty(t, trend)
}

func TestAggregate_MemberFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()

	mine := pendingContribution("mine", 200)
	require.NoError(t, s.Insert(ctx, mine))
	_, err := s.Settle(ctx, "mine", Settlement{Outcome: OutcomeSuccess, Actor: "staff-1"})
	require.NoError(t, err)

	other := pendingContribution("other", 300)
	require.NoError(t, s.Insert(ctx, other))
	_, err = s.Settle(ctx, "other", Settlement{Outcome: OutcomeSuccess, Actor: "staff-1"})
	require.NoError(t, err)

	summary, err := s.Aggregate(ctx, ContributionFilter{MemberID: mine.MemberID})
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Count)
	require.Equal(t, 200.0, summary.Total)
}

func TestTrend_GroupsByMonth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryContributions()

	jan := pendingContribution("jan", 100)
	jan.CreatedAt = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(ctx, jan))
	_, err := s.Settle(ctx, "jan", Settlement{Outcome: OutcomeSuccess, Actor: "staff-1"})
	require.NoError(t, err)

	feb := pendingContribution("feb", 60)
	feb.CreatedAt = time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Insert(ctx, feb))
	_, err = s.Settle(ctx, "feb", Settlement{Outcome: OutcomeSuccess, Actor: "staff-1"})
	require.NoError(t, err)

	trend, err := s.Trend(ctx, ContributionFilter{})
	require.NoError(t, err)
	require.Len(t, trend, 2)
	require.Equal(t, "2026-01", trend[0].Month)
	require.Equal(t, 100.0, trend[0].Total)
	require.Equal(t, "2026-02", trend[1].Month)
	require.Equal(t, 60.0, trend[1].Total)
}
