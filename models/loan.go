package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Loan statuses.
const (
	LoanApplied  = "APPLIED"
	LoanApproved = "APPROVED"
	LoanRejected = "REJECTED"
	LoanCleared  = "CLEARED"
)

type Loan struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MemberID   primitive.ObjectID `bson:"member_id" json:"member_id"`
	Amount     float64            `bson:"amount" json:"amount"`
	TermMonths int                `bson:"term_months" json:"term_months"`
	Purpose    string             `bson:"purpose,omitempty" json:"purpose,omitempty"`
	Status     string             `bson:"status" json:"status"` // APPLIED, APPROVED, REJECTED, CLEARED

	DecidedBy      string     `bson:"decided_by,omitempty" json:"decided_by,omitempty"`
	DecidedAt      *time.Time `bson:"decided_at,omitempty" json:"decided_at,omitempty"`
	DecisionReason string     `bson:"decision_reason,omitempty" json:"decision_reason,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`

	// Enriched fields
	Repaid      float64 `json:"repaid,omitempty" bson:"-"`
	Outstanding float64 `json:"outstanding,omitempty" bson:"-"`
}
