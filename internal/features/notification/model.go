package notification

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EventKind names what happened to a permit; recipients filter their inbox by it.
type EventKind string

const (
	EventPermitSubmitted         EventKind = "permit_submitted"
	EventApprovalRequired        EventKind = "approval_required"
	EventPermitApproved          EventKind = "permit_approved"
	EventPermitRejected          EventKind = "permit_rejected"
	EventPermitActivated         EventKind = "permit_activated"
	EventClosureRequested        EventKind = "closure_requested"
	EventClosureApprovalRequired EventKind = "closure_approval_required"
	EventClosureRejected         EventKind = "closure_rejected"
	EventPermitClosed            EventKind = "permit_closed"
	EventPermitStopped           EventKind = "permit_stopped"
	EventPermitExtended          EventKind = "permit_extended"
	EventPermitExpiring          EventKind = "permit_expiring"
	EventPermitExpired           EventKind = "permit_expired"
	EventApproverUnresolved      EventKind = "approver_unresolved"
)

var titles = map[EventKind]string{
	EventPermitSubmitted:         "Permit submitted",
	EventApprovalRequired:        "Permit awaiting your approval",
	EventPermitApproved:          "Permit approved",
	EventPermitRejected:          "Permit rejected",
	EventPermitActivated:         "Permit activated",
	EventClosureRequested:        "Permit closure requested",
	EventClosureApprovalRequired: "Permit closure awaiting your approval",
	EventClosureRejected:         "Permit closure rejected",
	EventPermitClosed:            "Permit closed",
	EventPermitStopped:           "Work stopped on permit",
	EventPermitExtended:          "Permit extended",
	EventPermitExpiring:          "Permit about to expire",
	EventPermitExpired:           "Permit expired",
	EventApproverUnresolved:      "Permit step has no approver",
}

func (k EventKind) Title() string {
	if t, ok := titles[k]; ok {
		return t
	}
	return string(k)
}

type Notification struct {
	ID        primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	TenantID  string                 `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	UserID    string                 `bson:"user_id" json:"user_id"`
	Kind      EventKind              `bson:"kind" json:"kind"`
	Title     string                 `bson:"title" json:"title"`
	Link      string                 `bson:"link,omitempty" json:"link,omitempty"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	IsRead    bool                   `bson:"is_read" json:"is_read"`
	CreatedAt time.Time              `bson:"created_at" json:"created_at"`
	ReadAt    *time.Time             `bson:"read_at,omitempty" json:"read_at,omitempty"`
}
