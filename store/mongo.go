package store

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	models "github.com/saccosmart/saccosmart-go/models"
)

// MongoContributions stores the ledger in a "contributions" collection.
// The atomic settlement transition is a FindOneAndUpdate keyed on
// (payment_reference, status=PENDING); Mongo's per-document atomicity makes
// the compare-and-swap.
type MongoContributions struct {
	col *mongo.Collection
}

func NewMongoContributions(client *mongo.Client, dbName string) *MongoContributions {
	return &MongoContributions{col: client.Database(dbName).Collection("contributions")}
}

// EnsureIndexes creates the unique payment_reference index the idempotency
// key depends on. Called once at startup.
func (m *MongoContributions) EnsureIndexes(ctx context.Context) error {
	_, err := m.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "payment_reference", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "member_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	return err
}

func (m *MongoContributions) Insert(ctx context.Context, c *models.Contribution) error {
	if _, err := m.col.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateReference
		}
		log.Printf("component=store method=Insert reference=%s err=%v", c.PaymentRef, err)
		return errors.Join(ErrInternal, err)
	}
	return nil
}

func (m *MongoContributions) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Contribution, error) {
	var c models.Contribution
	err := m.col.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrInternal, err)
	}
	return &c, nil
}

func (m *MongoContributions) GetByReference(ctx context.Context, ref string) (*models.Contribution, error) {
	var c models.Contribution
	err := m.col.FindOne(ctx, bson.M{"payment_reference": ref}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUnknownReference
		}
		return nil, errors.Join(ErrInternal, err)
	}
	return &c, nil
}

func (m *MongoContributions) RebindReference(ctx context.Context, oldRef, newRef string) error {
	res, err := m.col.UpdateOne(ctx,
		bson.M{"payment_reference": oldRef, "status": models.StatusPending},
		bson.M{"$set": bson.M{"payment_reference": newRef, "updated_at": time.Now()}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateReference
		}
		return errors.Join(ErrInternal, err)
	}
	if res.MatchedCount == 0 {
		return ErrUnknownReference
	}
	return nil
}

func (m *MongoContributions) SetCheckoutURL(ctx context.Context, ref, url string) error {
	res, err := m.col.UpdateOne(ctx,
		bson.M{"payment_reference": ref, "status": models.StatusPending},
		bson.M{"$set": bson.M{"checkout_url": url, "updated_at": time.Now()}},
	)
	if err != nil {
		return errors.Join(ErrInternal, err)
	}
	if res.MatchedCount == 0 {
		return ErrUnknownReference
	}
	return nil
}

func (m *MongoContributions) Settle(ctx context.Context, ref string, s Settlement) (*models.Contribution, error) {
	set, err := settlementSet(s)
	if err != nil {
		return nil, err
	}

	var c models.Contribution
	err = m.col.FindOneAndUpdate(ctx,
		bson.M{"payment_reference": ref, "status": models.StatusPending},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&c)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		log.Printf("component=store method=Settle reference=%s err=%v", ref, err)
		return nil, errors.Join(ErrInternal, err)
	}

	// No PENDING row matched: either the reference never existed, or another
	// settlement won the race. Re-read to tell the two apart.
	cur, gErr := m.GetByReference(ctx, ref)
	if gErr != nil {
		return nil, gErr
	}
	return cur, ErrAlreadySettled
}

// settlementSet builds the $set document for one settlement transition.
func settlementSet(s Settlement) (bson.M, error) {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	switch s.Outcome {
	case OutcomeSuccess:
		set := bson.M{
			"status":      models.StatusSuccess,
			"verified_by": s.Actor,
			"verified_at": at,
			"updated_at":  at,
		}
		if s.Receipt != "" {
			set["mpesa_receipt"] = s.Receipt
		}
		return set, nil
	case OutcomeFailed:
		return bson.M{
			"status":           models.StatusFailed,
			"rejected_by":      s.Actor,
			"rejected_at":      at,
			"rejection_reason": s.Reason,
			"updated_at":       at,
		}, nil
	default:
		return nil, ErrValidation
	}
}

func (m *MongoContributions) ExpirePending(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	now := time.Now()
	res, err := m.col.UpdateMany(ctx,
		bson.M{"status": models.StatusPending, "created_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{
			"status":           models.StatusFailed,
			"rejected_by":      "system",
			"rejected_at":      now,
			"rejection_reason": reason,
			"updated_at":       now,
		}},
	)
	if err != nil {
		return 0, errors.Join(ErrInternal, err)
	}
	return res.ModifiedCount, nil
}

func (m *MongoContributions) List(ctx context.Context, f ContributionFilter) ([]models.Contribution, error) {
	cursor, err := m.col.Find(ctx, listFilter(f), options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, errors.Join(ErrInternal, err)
	}
	contributions := []models.Contribution{}
	if err := cursor.All(ctx, &contributions); err != nil {
		return nil, errors.Join(ErrInternal, err)
	}
	return contributions, nil
}

func (m *MongoContributions) Aggregate(ctx context.Context, f ContributionFilter) (*Summary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: successFilter(f)}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$method",
			"count": bson.M{"$sum": 1},
			"total": bson.M{"$sum": "$amount"},
		}}},
	}
	cursor, err := m.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Join(ErrInternal, err)
	}

	var rows []struct {
		Method string  `bson:"_id"`
		Count  int64   `bson:"count"`
		Total  float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Join(ErrInternal, err)
	}

	summary := &Summary{ByMethod: map[string]MethodSummary{}}
	for _, r := range rows {
		summary.Count += r.Count
		summary.Total += r.Total
		summary.ByMethod[r.Method] = MethodSummary{Count: r.Count, Total: r.Total}
	}
	return summary, nil
}

func (m *MongoContributions) Trend(ctx context.Context, f ContributionFilter) ([]TrendPoint, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: successFilter(f)}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"$dateToString": bson.M{"format": "%Y-%m", "date": "$created_at"}},
			"count": bson.M{"$sum": 1},
			"total": bson.M{"$sum": "$amount"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}
	cursor, err := m.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Join(ErrInternal, err)
	}

	var rows []struct {
		Month string  `bson:"_id"`
		Count int64   `bson:"count"`
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Join(ErrInternal, err)
	}

	points := make([]TrendPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, TrendPoint{Month: r.Month, Count: r.Count, Total: r.Total})
	}
	return points, nil
}

func listFilter(f ContributionFilter) bson.M {
	filter := bson.M{}
	if !f.MemberID.IsZero() {
		filter["member_id"] = f.MemberID
	}
	if !f.LoanID.IsZero() {
		filter["loan_id"] = f.LoanID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Method != "" {
		filter["method"] = f.Method
	}
	if rng := dateRange(f); rng != nil {
		filter["created_at"] = rng
	}
	return filter
}

// successFilter is listFilter with status pinned to SUCCESS: aggregates only
// ever count realized funds.
func successFilter(f ContributionFilter) bson.M {
	f.Status = ""
	filter := listFilter(f)
	filter["status"] = models.StatusSuccess
	return filter
}

func dateRange(f ContributionFilter) bson.M {
	if f.From == nil && f.To == nil {
		return nil
	}
	rng := bson.M{}
	if f.From != nil {
		rng["$gte"] = *f.From
	}
	if f.To != nil {
		rng["$lt"] = *f.To
	}
	return rng
}
