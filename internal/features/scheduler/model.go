package scheduler

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobDone      JobStatus = "done"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// Job is a one-shot timer keyed by a caller-chosen string. Re-scheduling a
// key replaces the previous job; Token tells the two apart when an old timer
// fires late.
type Job struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Key       string             `bson:"key" json:"key"`
	Kind      string             `bson:"kind" json:"kind"`
	TenantID  string             `bson:"tenant_id" json:"tenant_id"`
	FireAt    time.Time          `bson:"fire_at" json:"fire_at"`
	Payload   map[string]string  `bson:"payload,omitempty" json:"payload,omitempty"`
	Token     string             `bson:"token" json:"token"`
	Status    JobStatus          `bson:"status" json:"status"`
	Attempts  int                `bson:"attempts" json:"attempts"`
	LastError string             `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}
