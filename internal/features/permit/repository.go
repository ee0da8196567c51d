package permit

import (
	"context"
	"fmt"
	"time"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PermitRepository interface {
	Create(ctx context.Context, p *Permit) error
	FindByID(ctx context.Context, id string) (*Permit, error)
	// Save writes p if the stored version still equals expectedVersion and
	// bumps p.Version; otherwise it fails with ErrVersionConflict.
	Save(ctx context.Context, p *Permit, expectedVersion int) error
	Delete(ctx context.Context, id string, expectedVersion int) error
	List(ctx context.Context, filter bson.M, page, limit int64) ([]Permit, int64, error)
	NextNumber(ctx context.Context, companyID string, year int) (string, error)
	EnsureIndexes(ctx context.Context) error
}

type PermitRepositoryImpl struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

func NewPermitRepository(mongodb *database.MongodbDB) PermitRepository {
	return &PermitRepositoryImpl{
		collection: mongodb.DB.Collection("permits"),
		counters:   mongodb.DB.Collection("counters"),
	}
}

// tenantFilter scopes a query to the tenant in context, when there is one.
func tenantFilter(ctx context.Context, filter bson.M) bson.M {
	if tenantID, ok := ctx.Value(common_models.TenantIDKey).(string); ok && tenantID != "" {
		filter["company_id"] = tenantID
	}
	return filter
}

func (r *PermitRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "permit_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "plant_id", Value: 1}}},
		{Keys: bson.D{{Key: "requested_by", Value: 1}}},
		{Keys: bson.D{{Key: "approvals.approver.user_id", Value: 1}}},
	})
	return err
}

func (r *PermitRepositoryImpl) Create(ctx context.Context, p *Permit) error {
	now := time.Now().UTC()
	p.ID = primitive.NewObjectID()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, p)
	return err
}

func (r *PermitRepositoryImpl) FindByID(ctx context.Context, id string) (*Permit, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var p Permit
	err = r.collection.FindOne(ctx, tenantFilter(ctx, bson.M{"_id": oid})).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *PermitRepositoryImpl) Save(ctx context.Context, p *Permit, expectedVersion int) error {
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now().UTC()

	filter := tenantFilter(ctx, bson.M{"_id": p.ID, "version": expectedVersion})
	result, err := r.collection.ReplaceOne(ctx, filter, p)
	if err != nil {
		p.Version = expectedVersion
		return err
	}
	if result.MatchedCount == 0 {
		p.Version = expectedVersion
		return newError(ErrVersionConflict, "save", "permit %s changed since version %d", p.ID.Hex(), expectedVersion)
	}
	return nil
}

func (r *PermitRepositoryImpl) Delete(ctx context.Context, id string, expectedVersion int) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return newError(ErrNotFound, "delete", "invalid id %q", id)
	}
	// Only drafts are ever removed.
	filter := tenantFilter(ctx, bson.M{"_id": oid, "version": expectedVersion, "status": StatusDraft})
	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return newError(ErrVersionConflict, "delete", "permit %s changed since version %d", id, expectedVersion)
	}
	return nil
}

func (r *PermitRepositoryImpl) List(ctx context.Context, filter bson.M, page, limit int64) ([]Permit, int64, error) {
	query := tenantFilter(ctx, filter)

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)
	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	permits := []Permit{}
	if err = cursor.All(ctx, &permits); err != nil {
		return nil, 0, err
	}
	return permits, total, nil
}

// NextNumber draws the next permit number from a per-tenant, per-year counter.
func (r *PermitRepositoryImpl) NextNumber(ctx context.Context, companyID string, year int) (string, error) {
	id := fmt.Sprintf("%s:ptw:%d", companyID, year)
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	// Two first-of-year upserts can race on _id; the loser retries as an update.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = r.counters.FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			bson.M{"$inc": bson.M{"seq": 1}},
			opts,
		).Decode(&counter)
		if !database.IsDuplicateKey(err) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("next permit number: %w", err)
	}
	return FormatNumber(year, counter.Seq), nil
}

func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("PTW-%d-%06d", year, seq)
}
