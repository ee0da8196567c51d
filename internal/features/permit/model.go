package permit

import (
	"time"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/features/policy"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Status string

const (
	StatusDraft          Status = "draft"
	StatusSubmitted      Status = "submitted"
	StatusApproved       Status = "approved"
	StatusActive         Status = "active"
	StatusPendingClosure Status = "pending_closure"
	StatusClosed         Status = "closed"
	StatusRejected       Status = "rejected"
	StatusStopped        Status = "stopped"
	StatusExpired        Status = "expired"
)

// Terminal reports whether no automated transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusRejected || s == StatusStopped
}

// StepStatus is blank until the step is reached.
type StepStatus string

const (
	StepNotReached StepStatus = ""
	StepPending    StepStatus = "pending"
	StepApproved   StepStatus = "approved"
	StepRejected   StepStatus = "rejected"
)

// Approver is the snapshot of the person assigned to a step.
type Approver struct {
	UserID string             `bson:"user_id" json:"user_id"`
	Name   string             `bson:"name,omitempty" json:"name,omitempty"`
	Role   common_models.Role `bson:"role" json:"role"`
}

type ApprovalEntry struct {
	Step      int                `bson:"step" json:"step"`
	Role      common_models.Role `bson:"role" json:"role"`
	Label     string             `bson:"label" json:"label"`
	Required  bool               `bson:"required" json:"required"`
	Approver  *Approver          `bson:"approver" json:"approver"`
	Status    StepStatus         `bson:"status,omitempty" json:"status,omitempty"`
	Comments  string             `bson:"comments,omitempty" json:"comments,omitempty"`
	DecidedAt *time.Time         `bson:"decided_at,omitempty" json:"decided_at,omitempty"`
}

// Closure carries the closure request. Mode is fixed when the permit is built;
// ordered closures track their steps in Permit.ClosureFlow, any-of closures
// record a single ApprovedBy.
type Closure struct {
	Mode        policy.ClosureMode     `bson:"mode" json:"mode"`
	Roles       []common_models.Role   `bson:"roles,omitempty" json:"roles,omitempty"`
	Approvers   []Approver             `bson:"approvers,omitempty" json:"approvers,omitempty"`
	Payload     map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	RequestedBy string                 `bson:"requested_by,omitempty" json:"requested_by,omitempty"`
	RequestedAt *time.Time             `bson:"requested_at,omitempty" json:"requested_at,omitempty"`
	ApprovedBy  string                 `bson:"approved_by,omitempty" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time             `bson:"approved_at,omitempty" json:"approved_at,omitempty"`
	Comments    string                 `bson:"comments,omitempty" json:"comments,omitempty"`
}

type StopWorkEntry struct {
	Role           common_models.Role `bson:"role" json:"role"`
	ResolvedUserID string             `bson:"resolved_user_id,omitempty" json:"resolved_user_id,omitempty"`
}

type StopRecord struct {
	StoppedBy string                 `bson:"stopped_by" json:"stopped_by"`
	Role      common_models.Role     `bson:"role" json:"role"`
	Reason    string                 `bson:"reason" json:"reason"`
	Payload   map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	StoppedAt time.Time              `bson:"stopped_at" json:"stopped_at"`
}

type Extension struct {
	Hours             int       `bson:"hours" json:"hours"`
	Reason            string    `bson:"reason" json:"reason"`
	RequestedBy       string    `bson:"requested_by" json:"requested_by"`
	ApprovedBy        string    `bson:"approved_by" json:"approved_by"`
	Comments          string    `bson:"comments,omitempty" json:"comments,omitempty"`
	PreviousExpiresAt time.Time `bson:"previous_expires_at" json:"previous_expires_at"`
	NewExpiresAt      time.Time `bson:"new_expires_at" json:"new_expires_at"`
	Timestamp         time.Time `bson:"timestamp" json:"timestamp"`
}

type Schedule struct {
	StartDate *time.Time `bson:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate   *time.Time `bson:"end_date,omitempty" json:"end_date,omitempty"`
}

type Permit struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PermitNumber string             `bson:"permit_number" json:"permit_number"`
	Title        string             `bson:"title" json:"title"`
	Description  string             `bson:"description,omitempty" json:"description,omitempty"`
	Location     string             `bson:"location,omitempty" json:"location,omitempty"`

	Types            []string `bson:"types" json:"types"`
	DeclaredHighRisk bool     `bson:"declared_high_risk" json:"declared_high_risk"`
	IsHighRisk       bool     `bson:"is_high_risk" json:"is_high_risk"`

	CompanyID   string `bson:"company_id" json:"company_id"`
	PlantID     string `bson:"plant_id" json:"plant_id"`
	AreaID      string `bson:"area_id" json:"area_id"`
	RequestedBy string `bson:"requested_by" json:"requested_by"`

	Schedule        Schedule               `bson:"schedule" json:"schedule"`
	WorkDetails     map[string]interface{} `bson:"work_details,omitempty" json:"work_details,omitempty"`
	ExpiresAt       *time.Time             `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	ReminderSentFor *time.Time             `bson:"reminder_sent_for,omitempty" json:"-"`

	Approvals     []ApprovalEntry `bson:"approvals" json:"approvals"`
	ClosureFlow   []ApprovalEntry `bson:"closure_flow,omitempty" json:"closure_flow,omitempty"`
	Closure       Closure         `bson:"closure" json:"closure"`
	StopWorkRoles []StopWorkEntry `bson:"stop_work_roles" json:"stop_work_roles"`
	Stop          *StopRecord     `bson:"stop,omitempty" json:"stop,omitempty"`
	Extensions    []Extension     `bson:"extensions" json:"extensions"`

	Status      Status     `bson:"status" json:"status"`
	SubmittedAt *time.Time `bson:"submitted_at,omitempty" json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time `bson:"approved_at,omitempty" json:"approved_at,omitempty"`
	ActivatedAt *time.Time `bson:"activated_at,omitempty" json:"activated_at,omitempty"`
	ActivatedBy string     `bson:"activated_by,omitempty" json:"activated_by,omitempty"`
	ClosedAt    *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	ExpiredAt   *time.Time `bson:"expired_at,omitempty" json:"expired_at,omitempty"`

	// Warnings lists steps that cannot progress because nobody holds the role.
	Warnings []string `bson:"warnings,omitempty" json:"warnings,omitempty"`

	Version   int       `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// pendingIndex returns the index of the single pending entry, or -1.
func pendingIndex(entries []ApprovalEntry) int {
	for i := range entries {
		if entries[i].Status == StepPending {
			return i
		}
	}
	return -1
}

func stepIndex(entries []ApprovalEntry, step int) int {
	for i := range entries {
		if entries[i].Step == step {
			return i
		}
	}
	return -1
}

// PendingApproval returns the approval step awaiting a decision, if any.
func (p *Permit) PendingApproval() *ApprovalEntry {
	if i := pendingIndex(p.Approvals); i >= 0 {
		return &p.Approvals[i]
	}
	return nil
}

// Involves reports whether userID requested, approves, closes or may stop the permit.
func (p *Permit) Involves(userID string) bool {
	if userID == "" {
		return false
	}
	if p.RequestedBy == userID || p.Closure.ApprovedBy == userID {
		return true
	}
	for _, list := range [][]ApprovalEntry{p.Approvals, p.ClosureFlow} {
		for _, e := range list {
			if e.Approver != nil && e.Approver.UserID == userID {
				return true
			}
		}
	}
	for _, a := range p.Closure.Approvers {
		if a.UserID == userID {
			return true
		}
	}
	for _, s := range p.StopWorkRoles {
		if s.ResolvedUserID == userID {
			return true
		}
	}
	return false
}
