package directory

import (
	"context"
	"go-ptw/internal/database"

	common_models "go-ptw/internal/common/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DirectoryRepository interface {
	FindArea(ctx context.Context, areaID string) (*Area, error)
	FindUsersByIDs(ctx context.Context, ids []string) ([]User, error)
	// FindActiveHolders lists active users holding role, oldest assignment first.
	// An empty plantID searches the whole company.
	FindActiveHolders(ctx context.Context, role common_models.Role, companyID, plantID string) ([]User, error)
	FindNames(ctx context.Context, ids []string) (map[string]string, error)
	EnsureIndexes(ctx context.Context) error
}

type DirectoryRepositoryImpl struct {
	areas *mongo.Collection
	users *mongo.Collection
}

func NewDirectoryRepository(mongodb *database.MongodbDB) DirectoryRepository {
	return &DirectoryRepositoryImpl{
		areas: mongodb.DB.Collection("areas"),
		users: mongodb.DB.Collection("users"),
	}
}

func (r *DirectoryRepositoryImpl) FindArea(ctx context.Context, areaID string) (*Area, error) {
	oid, err := primitive.ObjectIDFromHex(areaID)
	if err != nil {
		return nil, nil
	}
	var area Area
	err = r.areas.FindOne(ctx, bson.M{"_id": oid}).Decode(&area)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &area, nil
}

func (r *DirectoryRepositoryImpl) FindUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return []User{}, nil
	}

	cursor, err := r.users.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []User{}
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *DirectoryRepositoryImpl) FindActiveHolders(ctx context.Context, role common_models.Role, companyID, plantID string) ([]User, error) {
	filter := bson.M{
		"company_id": companyID,
		"role":       role,
		"active":     true,
	}
	if plantID != "" {
		filter["plant_id"] = plantID
	}

	opts := options.Find().SetSort(bson.D{{Key: "assigned_at", Value: 1}}).SetLimit(5)
	cursor, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []User{}
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *DirectoryRepositoryImpl) FindNames(ctx context.Context, ids []string) (map[string]string, error) {
	users, err := r.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID.Hex()] = u.Name
	}
	return names, nil
}

func (r *DirectoryRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "company_id", Value: 1},
			{Key: "plant_id", Value: 1},
			{Key: "role", Value: 1},
			{Key: "active", Value: 1},
		},
	})
	if err != nil {
		return err
	}
	_, err = r.areas.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "plant_id", Value: 1}},
	})
	return err
}
