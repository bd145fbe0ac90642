package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/saccosmart/saccosmart-go/models"
)

// Settlement outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Settlement is a normalized settlement event applied to a PENDING
// contribution. Actor identifies who confirmed the outcome ("mpesa",
// "card-gateway", "system", or a staff member id).
type Settlement struct {
	Outcome string
	Actor   string
	Receipt string // provider receipt number, success only
	Reason  string // rejection reason, failed only
	At      time.Time
}

// ContributionFilter narrows List queries.
type ContributionFilter struct {
	MemberID primitive.ObjectID
	LoanID   primitive.ObjectID
	Status   string
	Method   string
	From     *time.Time
	To       *time.Time
}

// Summary is the dashboard aggregate over settled contributions. Only
// SUCCESS rows are counted; pending and failed money is never realized.
type Summary struct {
	Count    int64                    `json:"count"`
	Total    float64                  `json:"total"`
	ByMethod map[string]MethodSummary `json:"by_method"`
}

type MethodSummary struct {
	Count int64   `json:"count"`
	Total float64 `json:"total"`
}

// TrendPoint is one month of realized contributions.
type TrendPoint struct {
	Month string  `json:"month"` // "2026-01"
	Count int64   `json:"count"`
	Total float64 `json:"total"`
}

// ContributionStore is the ledger. Implementations must make Settle a
// single atomic conditional update keyed on (payment_reference,
// status=PENDING): of two concurrent settlement attempts for one reference
// exactly one mutates, and the loser observes the settled record.
type ContributionStore interface {
	// Insert persists a new PENDING record. Returns ErrDuplicateReference
	// if the payment reference is already taken.
	Insert(ctx context.Context, c *models.Contribution) error

	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Contribution, error)
	GetByReference(ctx context.Context, ref string) (*models.Contribution, error)

	// RebindReference swaps a provisional reference for the provider-assigned
	// one. Only PENDING records rebind; settled records keep the reference
	// they settled under.
	RebindReference(ctx context.Context, oldRef, newRef string) error

	// SetCheckoutURL attaches a hosted-payment URL to a PENDING record.
	SetCheckoutURL(ctx context.Context, ref, url string) error

	// Settle applies s to the record holding ref. Returns the record after
	// the call together with ErrAlreadySettled when the record was already
	// terminal (no mutation), or ErrUnknownReference when no record holds
	// ref.
	Settle(ctx context.Context, ref string, s Settlement) (*models.Contribution, error)

	// ExpirePending fails every PENDING record created before cutoff,
	// returning how many were swept.
	ExpirePending(ctx context.Context, cutoff time.Time, reason string) (int64, error)

	List(ctx context.Context, f ContributionFilter) ([]models.Contribution, error)
	Aggregate(ctx context.Context, f ContributionFilter) (*Summary, error)
	Trend(ctx context.Context, f ContributionFilter) ([]TrendPoint, error)
}
