package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Contribution statuses. PENDING is the only non-terminal state; a record
// moves out of it exactly once.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Payment methods.
const (
	MethodMpesa  = "MPESA"
	MethodCard   = "CARD"
	MethodCash   = "CASH"
	MethodBank   = "BANK"
	MethodCheque = "CHEQUE"
)

// Contribution is a single funds-in event on the member ledger.
//
// PaymentRef is the idempotency key: it is unique across all contributions,
// and every settlement event (provider callback, client verify, staff action)
// addresses the record through it. Records are never deleted.
type Contribution struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MemberID    primitive.ObjectID `bson:"member_id" json:"member_id"`
	LoanID      primitive.ObjectID `bson:"loan_id,omitempty" json:"loan_id,omitempty"` // set when this is a loan repayment
	Amount      float64            `bson:"amount" json:"amount"`
	Currency    string             `bson:"currency" json:"currency"`
	Method      string             `bson:"method" json:"method"`
	PaymentRef  string             `bson:"payment_reference" json:"payment_reference"`
	Status      string             `bson:"status" json:"status"`
	Phone       string             `bson:"phone,omitempty" json:"phone,omitempty"`
	CheckoutURL string             `bson:"checkout_url,omitempty" json:"checkout_url,omitempty"`
	Narrative   string             `bson:"narrative,omitempty" json:"narrative,omitempty"`

	// Settlement audit trail. Verified* is written only on the transition to
	// SUCCESS, Rejected* only on the transition to FAILED.
	VerifiedBy      string     `bson:"verified_by,omitempty" json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `bson:"verified_at,omitempty" json:"verified_at,omitempty"`
	MpesaReceipt    string     `bson:"mpesa_receipt,omitempty" json:"mpesa_receipt,omitempty"`
	RejectedBy      string     `bson:"rejected_by,omitempty" json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `bson:"rejected_at,omitempty" json:"rejected_at,omitempty"`
	RejectionReason string     `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Settled reports whether the record is in a terminal state.
func (c *Contribution) Settled() bool {
	return c.Status == StatusSuccess || c.Status == StatusFailed
}

// ValidMethod reports whether m is a supported payment method.
func ValidMethod(m string) bool {
	switch m {
	case MethodMpesa, MethodCard, MethodCash, MethodBank, MethodCheque:
		return true
	}
	return false
}
