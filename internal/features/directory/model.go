package directory

import (
	"time"

	common_models "go-ptw/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AreaAssignment designates a person for an area-scoped role.
type AreaAssignment struct {
	Role       common_models.Role `bson:"role" json:"role"`
	UserID     string             `bson:"user_id" json:"user_id"`
	AssignedAt time.Time          `bson:"assigned_at" json:"assigned_at"`
}

type Area struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CompanyID string             `bson:"company_id" json:"company_id"`
	PlantID   string             `bson:"plant_id" json:"plant_id"`
	Name      string             `bson:"name" json:"name"`
	Personnel []AreaAssignment   `bson:"personnel" json:"personnel"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// User is the directory's view of a person; only what role resolution needs.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CompanyID  string             `bson:"company_id" json:"company_id"`
	PlantID    string             `bson:"plant_id,omitempty" json:"plant_id,omitempty"`
	Name       string             `bson:"name" json:"name"`
	Email      string             `bson:"email" json:"email"`
	Role       common_models.Role `bson:"role" json:"role"`
	Active     bool               `bson:"active" json:"active"`
	AssignedAt time.Time          `bson:"assigned_at" json:"assigned_at"`
}

func (u *User) Identity() *common_models.Identity {
	return &common_models.Identity{
		UserID:    u.ID.Hex(),
		Name:      u.Name,
		Role:      u.Role,
		CompanyID: u.CompanyID,
		PlantID:   u.PlantID,
	}
}
