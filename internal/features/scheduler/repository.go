package scheduler

import (
	"context"
	"time"

	"go-ptw/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type JobRepository interface {
	// Upsert replaces whatever job is stored under job.Key.
	Upsert(ctx context.Context, job *Job) error
	GetByKey(ctx context.Context, key string) (*Job, error)
	Cancel(ctx context.Context, key string) error
	// Complete moves the job out of pending, but only while token still matches.
	Complete(ctx context.Context, key, token string, status JobStatus, lastError string) error
	Retry(ctx context.Context, key, token string, attempts int, fireAt time.Time, lastError string) error
	ListPending(ctx context.Context, before time.Time) ([]Job, error)
	List(ctx context.Context, filter map[string]interface{}, limit int64) ([]Job, error)
	EnsureIndexes(ctx context.Context) error
}

type JobRepositoryImpl struct {
	collection *mongo.Collection
}

func NewJobRepository(db *database.MongodbDB) JobRepository {
	return &JobRepositoryImpl{
		collection: db.DB.Collection("scheduled_jobs"),
	}
}

func (r *JobRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "fire_at", Value: 1}},
		},
	})
	return err
}

func (r *JobRepositoryImpl) Upsert(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.UpdatedAt = now
	update := bson.M{
		"$set": bson.M{
			"kind":       job.Kind,
			"tenant_id":  job.TenantID,
			"fire_at":    job.FireAt,
			"payload":    job.Payload,
			"token":      job.Token,
			"status":     job.Status,
			"attempts":   job.Attempts,
			"last_error": "",
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"key": job.Key}, update, options.Update().SetUpsert(true))
	return err
}

func (r *JobRepositoryImpl) GetByKey(ctx context.Context, key string) (*Job, error) {
	var job Job
	err := r.collection.FindOne(ctx, bson.M{"key": key}).Decode(&job)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepositoryImpl) Cancel(ctx context.Context, key string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"key": key, "status": JobPending},
		bson.M{"$set": bson.M{"status": JobCancelled, "updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *JobRepositoryImpl) Complete(ctx context.Context, key, token string, status JobStatus, lastError string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"key": key, "token": token, "status": JobPending},
		bson.M{"$set": bson.M{"status": status, "last_error": lastError, "updated_at": time.Now().UTC()}},
	)
	return err
}

func (r *JobRepositoryImpl) Retry(ctx context.Context, key, token string, attempts int, fireAt time.Time, lastError string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"key": key, "token": token, "status": JobPending},
		bson.M{"$set": bson.M{
			"attempts":   attempts,
			"fire_at":    fireAt,
			"last_error": lastError,
			"updated_at": time.Now().UTC(),
		}},
	)
	return err
}

func (r *JobRepositoryImpl) ListPending(ctx context.Context, before time.Time) ([]Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "fire_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{
		"status":  JobPending,
		"fire_at": bson.M{"$lte": before},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	jobs := []Job{}
	if err = cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *JobRepositoryImpl) List(ctx context.Context, filter map[string]interface{}, limit int64) ([]Job, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "fire_at", Value: -1}}).
		SetLimit(limit)
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	jobs := []Job{}
	if err = cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}
