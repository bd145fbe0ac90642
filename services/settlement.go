package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/saccosmart/saccosmart-go/models"
	payments "github.com/saccosmart/saccosmart-go/payments"
	store "github.com/saccosmart/saccosmart-go/store"
)

// Settlement actors recorded on the audit trail when no staff member is
// involved.
const (
	ActorMpesa       = "mpesa"
	ActorCardGateway = "card-gateway"
	ActorSystem      = "system"
)

// Settlement owns the contribution lifecycle: it creates PENDING ledger
// records, hands them to a payment provider, and applies settlement events
// exactly once.
type Settlement struct {
	store store.ContributionStore
	push  payments.PushClient
	card  payments.CardClient

	// Notifier, when set, is called after a record actually transitions
	// (never on idempotent re-deliveries). Failures are the notifier's
	// problem; settlement does not roll back.
	Notifier func(ctx context.Context, c *models.Contribution)

	providerTimeout time.Duration
}

func NewSettlement(st store.ContributionStore, push payments.PushClient, card payments.CardClient, providerTimeout time.Duration) *Settlement {
	if providerTimeout <= 0 {
		providerTimeout = 15 * time.Second
	}
	return &Settlement{store: st, push: push, card: card, providerTimeout: providerTimeout}
}

// InitiateRequest is a member's payment request.
type InitiateRequest struct {
	MemberID  primitive.ObjectID
	LoanID    primitive.ObjectID
	Amount    float64
	Method    string
	Phone     string
	Email     string
	Narrative string
}

// Initiate validates the request, writes exactly one PENDING record, and
// kicks off the provider flow for MPESA and CARD.
//
// The record is written before the provider call: a provider failure after
// the insert returns ErrProviderUnavailable with the record still attached,
// and the PENDING row waits for a verify poll or the expiry sweep. The
// caller keeps the payment reference either way.
func (s *Settlement) Initiate(ctx context.Context, req InitiateRequest) (*models.Contribution, error) {
	if req.Amount <= 0 {
		return nil, store.ErrValidation
	}
	if !models.ValidMethod(req.Method) {
		return nil, store.ErrValidation
	}
	if req.MemberID.IsZero() {
		return nil, store.ErrValidation
	}
	if req.Method == models.MethodMpesa && req.Phone == "" {
		return nil, store.ErrValidation
	}

	now := time.Now()
	c := &models.Contribution{
		ID:         primitive.NewObjectID(),
		MemberID:   req.MemberID,
		LoanID:     req.LoanID,
		Amount:     req.Amount,
		Currency:   "KES",
		Method:     req.Method,
		PaymentRef: "SSM-" + uuid.NewString(),
		Status:     models.StatusPending,
		Phone:      req.Phone,
		Narrative:  req.Narrative,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return nil, err
	}

	switch req.Method {
	case models.MethodMpesa:
		return s.startPush(ctx, c)
	case models.MethodCard:
		return s.startCheckout(ctx, c, req.Email)
	default:
		// CASH, BANK, CHEQUE settle through staff verification.
		return c, nil
	}
}

func (s *Settlement) startPush(ctx context.Context, c *models.Contribution) (*models.Contribution, error) {
	if s.push == nil {
		return c, store.ErrProviderUnavailable
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	checkoutID, err := s.push.STKPush(pctx, c.Phone, c.Amount, c.PaymentRef)
	if err != nil {
		log.Printf("component=settlement method=Initiate reference=%s err=%v", c.PaymentRef, err)
		return c, errors.Join(store.ErrProviderUnavailable, err)
	}

	// The provider addresses its callback by CheckoutRequestID, so the
	// ledger record has to hold it as the reference.
	if err := s.store.RebindReference(ctx, c.PaymentRef, checkoutID); err != nil {
		log.Printf("component=settlement method=Initiate reference=%s checkout=%s err=%v", c.PaymentRef, checkoutID, err)
		return c, err
	}
	c.PaymentRef = checkoutID
	return c, nil
}

func (s *Settlement) startCheckout(ctx context.Context, c *models.Contribution, email string) (*models.Contribution, error) {
	if s.card == nil {
		return c, store.ErrProviderUnavailable
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	link, err := s.card.CreateCheckoutSession(pctx, c.PaymentRef, email, c.Amount)
	if err != nil {
		log.Printf("component=settlement method=Initiate reference=%s err=%v", c.PaymentRef, err)
		return c, errors.Join(store.ErrProviderUnavailable, err)
	}
	if err := s.store.SetCheckoutURL(ctx, c.PaymentRef, link); err != nil {
		return c, err
	}
	c.CheckoutURL = link
	return c, nil
}

// Settle applies one normalized settlement event. Re-deliveries and
// callback-vs-poll races come out as ErrAlreadySettled with the settled
// record: the caller treats that as success, not failure.
func (s *Settlement) Settle(ctx context.Context, ev payments.SettlementEvent, actor string) (*models.Contribution, error) {
	c, err := s.store.Settle(ctx, ev.Reference, store.Settlement{
		Outcome: ev.Outcome,
		Actor:   actor,
		Receipt: ev.Receipt,
		Reason:  ev.Reason,
	})
	switch {
	case err == nil:
		log.Printf("component=settlement method=Settle reference=%s outcome=%s actor=%s", ev.Reference, ev.Outcome, actor)
		if s.Notifier != nil {
			s.Notifier(ctx, c)
		}
		return c, nil
	case errors.Is(err, store.ErrAlreadySettled):
		log.Printf("component=settlement method=Settle reference=%s outcome=%s actor=%s already_settled=%s", ev.Reference, ev.Outcome, actor, c.Status)
		return c, err
	case errors.Is(err, store.ErrUnknownReference):
		log.Printf("component=settlement method=Settle reference=%s outcome=%s actor=%s err=unknown_reference", ev.Reference, ev.Outcome, actor)
		return nil, err
	default:
		log.Printf("component=settlement method=Settle reference=%s err=%v", ev.Reference, err)
		return nil, err
	}
}

// Verify returns the current state of the record holding ref. While the
// record is still PENDING on a mobile-money push, the provider is asked for
// the outcome and a terminal answer is applied through the same conditional
// transition as a callback would be. An unreachable provider degrades to
// reporting the stored state.
func (s *Settlement) Verify(ctx context.Context, ref string) (*models.Contribution, error) {
	c, err := s.store.GetByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c.Settled() || c.Method != models.MethodMpesa || s.push == nil {
		return c, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	ev, err := s.push.STKQuery(pctx, ref)
	if err != nil {
		log.Printf("component=settlement method=Verify reference=%s err=%v", ref, err)
		return c, nil
	}
	if ev == nil {
		// No final outcome yet.
		return c, nil
	}

	settled, err := s.Settle(ctx, *ev, ActorMpesa)
	if err != nil && !errors.Is(err, store.ErrAlreadySettled) {
		return c, nil
	}
	return settled, nil
}

// Aggregate reports realized (SUCCESS-only) totals for the dashboard.
func (s *Settlement) Aggregate(ctx context.Context, f store.ContributionFilter) (*store.Summary, error) {
	return s.store.Aggregate(ctx, f)
}

// Trend reports the monthly realized-contribution series.
func (s *Settlement) Trend(ctx context.Context, f store.ContributionFilter) ([]store.TrendPoint, error) {
	return s.store.Trend(ctx, f)
}
