package policy

import (
	"context"
	"go-ptw/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type PolicyRepository interface {
	Get(ctx context.Context, companyID, module string) (*ModulePolicy, error)
	Upsert(ctx context.Context, p *ModulePolicy) error
	EnsureIndexes(ctx context.Context) error
}

type PolicyRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewPolicyRepository(mongodb *database.MongodbDB) PolicyRepository {
	return &PolicyRepositoryImpl{
		Collection: mongodb.DB.Collection("module_policies"),
	}
}

func (r *PolicyRepositoryImpl) Get(ctx context.Context, companyID, module string) (*ModulePolicy, error) {
	var p ModulePolicy
	err := r.Collection.FindOne(ctx, bson.M{"company_id": companyID, "module": module}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *PolicyRepositoryImpl) Upsert(ctx context.Context, p *ModulePolicy) error {
	filter := bson.M{"company_id": p.CompanyID, "module": p.Module}
	update := bson.M{
		"$set": bson.M{
			"approval_steps":           p.ApprovalSteps,
			"high_risk_approval_steps": p.HighRiskApprovalSteps,
			"closure":                  p.Closure,
			"extension_authorizations": p.ExtensionAuthorizations,
			"stop_work_roles":          p.StopWorkRoles,
			"default_expiry_hours":     p.DefaultExpiryHours,
			"version":                  p.Version,
			"updated_by":               p.UpdatedBy,
			"updated_at":               p.UpdatedAt,
		},
	}
	_, err := r.Collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *PolicyRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "company_id", Value: 1}, {Key: "module", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
