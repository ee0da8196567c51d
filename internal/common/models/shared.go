package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ContextKey string

const (
	TenantIDKey ContextKey = "tenant_id"
)

type AuditAction string

const (
	AuditActionCreate   AuditAction = "CREATE"
	AuditActionUpdate   AuditAction = "UPDATE"
	AuditActionDelete   AuditAction = "DELETE"
	AuditActionApproval AuditAction = "APPROVAL"
	AuditActionPermit   AuditAction = "PERMIT"
	AuditActionPolicy   AuditAction = "POLICY"
	AuditActionCron     AuditAction = "CRON"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionCreate, AuditActionUpdate, AuditActionDelete, AuditActionApproval,
		AuditActionPermit, AuditActionPolicy, AuditActionCron:
		return true
	}
	return false
}

type Change struct {
	Old interface{} `bson:"old" json:"old"`
	New interface{} `bson:"new" json:"new"`
}

type AuditLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID  string             `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	Action    AuditAction        `bson:"action" json:"action"`
	Module    string             `bson:"module" json:"module"`                       // The module/collection name
	RecordID  string             `bson:"record_id" json:"record_id"`                 // The ID of the record being modified
	ActorID   string             `bson:"actor_id" json:"actor_id"`                   // User ID who performed the action
	ActorName string             `bson:"-" json:"actor_name,omitempty"`              // Populated Name of the actor
	Changes   map[string]Change  `bson:"changes,omitempty" json:"changes,omitempty"` // field -> {old, new}
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`
}

type Log struct {
	Message      string    `bson:"message" json:"message"`
	Caller       string    `bson:"caller,omitempty" json:"caller,omitempty"`
	TenantID     string    `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	PermitID     string    `bson:"permit_id,omitempty" json:"permit_id,omitempty"`
	AppID        string    `bson:"app_id" json:"app_id"`
	LogLevelId   int       `bson:"log_level_id" json:"log_level_id"`
	CreatedOnUtc time.Time `bson:"created_on_utc" json:"created_on_utc"`
}

// Role is the closed set of organisational roles the workflow engine knows about.
type Role string

const (
	RoleRequester      Role = "requester"
	RoleContractor     Role = "contractor"
	RoleHOD            Role = "hod"
	RoleSafetyIncharge Role = "safety_incharge"
	RoleAreaIncharge   Role = "area_incharge"
	RolePlantHead      Role = "plant_head"
	RolePlantManager   Role = "plant_manager"
	RoleCompanyOwner   Role = "company_owner"
	RoleAdmin          Role = "admin"
	RoleSuperAdmin     Role = "super_admin"
)

var knownRoles = map[Role]struct{}{
	RoleRequester: {}, RoleContractor: {}, RoleHOD: {}, RoleSafetyIncharge: {},
	RoleAreaIncharge: {}, RolePlantHead: {}, RolePlantManager: {}, RoleCompanyOwner: {},
	RoleAdmin: {}, RoleSuperAdmin: {},
}

func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// AreaScoped roles are designated per area.
func (r Role) AreaScoped() bool {
	return r == RoleHOD || r == RoleSafetyIncharge || r == RoleAreaIncharge
}

// PlantScoped roles have one active holder per plant.
func (r Role) PlantScoped() bool {
	return r == RolePlantHead || r == RolePlantManager
}

func (r Role) CompanyScoped() bool {
	return r == RoleCompanyOwner
}

// Administrative roles may stop any active permit and repair unresolved chains.
func (r Role) Administrative() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Scope is the organisational location a role is resolved in.
type Scope struct {
	CompanyID string `bson:"company_id" json:"company_id"`
	PlantID   string `bson:"plant_id" json:"plant_id"`
	AreaID    string `bson:"area_id" json:"area_id"`
}

// Identity is an authenticated caller or a resolved approver.
type Identity struct {
	UserID    string `bson:"user_id" json:"user_id"`
	Name      string `bson:"name,omitempty" json:"name,omitempty"`
	Role      Role   `bson:"role" json:"role"`
	CompanyID string `bson:"company_id" json:"company_id"`
	PlantID   string `bson:"plant_id,omitempty" json:"plant_id,omitempty"`
	AreaID    string `bson:"area_id,omitempty" json:"area_id,omitempty"`
}
