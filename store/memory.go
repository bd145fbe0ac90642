package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/saccosmart/saccosmart-go/models"
)

// MemoryContributions is an in-process ContributionStore used by tests and
// MONGO_URI-less dev runs. All mutation happens under one mutex, so the
// settlement check-and-transition is atomic the same way the Mongo
// conditional update is.
type MemoryContributions struct {
	mu    sync.Mutex
	byRef map[string]*models.Contribution
}

func NewMemoryContributions() *MemoryContributions {
	return &MemoryContributions{byRef: make(map[string]*models.Contribution)}
}

func (m *MemoryContributions) Insert(ctx context.Context, c *models.Contribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[c.PaymentRef]; ok {
		return ErrDuplicateReference
	}
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	cp := *c
	m.byRef[c.PaymentRef] = &cp
	return nil
}

func (m *MemoryContributions) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byRef {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryContributions) GetByReference(ctx context.Context, ref string) (*models.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byRef[ref]
	if !ok {
		return nil, ErrUnknownReference
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryContributions) RebindReference(ctx context.Context, oldRef, newRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byRef[oldRef]
	if !ok || c.Status != models.StatusPending {
		return ErrUnknownReference
	}
	if _, taken := m.byRef[newRef]; taken {
		return ErrDuplicateReference
	}
	delete(m.byRef, oldRef)
	c.PaymentRef = newRef
	c.UpdatedAt = time.Now()
	m.byRef[newRef] = c
	return nil
}

func (m *MemoryContributions) SetCheckoutURL(ctx context.Context, ref, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byRef[ref]
	if !ok || c.Status != models.StatusPending {
		return ErrUnknownReference
	}
	c.CheckoutURL = url
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryContributions) Settle(ctx context.Context, ref string, s Settlement) (*models.Contribution, error) {
	if s.Outcome != OutcomeSuccess && s.Outcome != OutcomeFailed {
		return nil, ErrValidation
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byRef[ref]
	if !ok {
		return nil, ErrUnknownReference
	}
	if c.Status != models.StatusPending {
		cp := *c
		return &cp, ErrAlreadySettled
	}

	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	if s.Outcome == OutcomeSuccess {
		c.Status = models.StatusSuccess
		c.VerifiedBy = s.Actor
		c.VerifiedAt = &at
		c.MpesaReceipt = s.Receipt
	} else {
		c.Status = models.StatusFailed
		c.RejectedBy = s.Actor
		c.RejectedAt = &at
		c.RejectionReason = s.Reason
	}
	c.UpdatedAt = at
	cp := *c
	return &cp, nil
}

func (m *MemoryContributions) ExpirePending(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var swept int64
	for _, c := range m.byRef {
		if c.Status != models.StatusPending || !c.CreatedAt.Before(cutoff) {
			continue
		}
		at := now
		c.Status = models.StatusFailed
		c.RejectedBy = "system"
		c.RejectedAt = &at
		c.RejectionReason = reason
		c.UpdatedAt = at
		swept++
	}
	return swept, nil
}

func (m *MemoryContributions) List(ctx context.Context, f ContributionFilter) ([]models.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Contribution{}
	for _, c := range m.byRef {
		if matches(c, f) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryContributions) Aggregate(ctx context.Context, f ContributionFilter) (*Summary, error) {
	f.Status = models.StatusSuccess
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &Summary{ByMethod: map[string]MethodSummary{}}
	for _, c := range m.byRef {
		if !matches(c, f) {
			continue
		}
		summary.Count++
		summary.Total += c.Amount
		ms := summary.ByMethod[c.Method]
		ms.Count++
		ms.Total += c.Amount
		summary.ByMethod[c.Method] = ms
	}
	return summary, nil
}

func (m *MemoryContributions) Trend(ctx context.Context, f ContributionFilter) ([]TrendPoint, error) {
	f.Status = models.StatusSuccess
	m.mu.Lock()
	defer m.mu.Unlock()
	byMonth := map[string]*TrendPoint{}
	for _, c := range m.byRef {
		if !matches(c, f) {
			continue
		}
		month := c.CreatedAt.Format("2006-01")
		p, ok := byMonth[month]
		if !ok {
			p = &TrendPoint{Month: month}
			byMonth[month] = p
		}
		p.Count++
		p.Total += c.Amount
	}
	points := make([]TrendPoint, 0, len(byMonth))
	for _, p := range byMonth {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Month < points[j].Month })
	return points, nil
}

func matches(c *models.Contribution, f ContributionFilter) bool {
	if !f.MemberID.IsZero() && c.MemberID != f.MemberID {
		return false
	}
	if !f.LoanID.IsZero() && c.LoanID != f.LoanID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Method != "" && c.Method != f.Method {
		return false
	}
	if f.From != nil && c.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !c.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}
