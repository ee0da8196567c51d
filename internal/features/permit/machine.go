package permit

import (
	"errors"
	"slices"
	"time"

	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/features/notification"
	"go-ptw/internal/features/policy"
)

const fallbackExpiryHours = 8

// Flow names accepted by Reassign.
const (
	FlowApproval = "approval"
	FlowClosure  = "closure"
)

// errNotDue is returned by Expire when the job fired before expiresAt.
var errNotDue = errors.New("expiry not yet due")

// Expiry instants are kept at the precision Mongo stores, so the expiry read
// back from the database matches the one a job was scheduled for.
const expiryPrecision = time.Millisecond

func expiryAt(t time.Time) time.Time {
	return t.UTC().Truncate(expiryPrecision)
}

func sameExpiry(a, b time.Time) bool {
	return expiryAt(a).Equal(expiryAt(b))
}

// Notice is a notification to send once the transition is stored.
type Notice struct {
	Recipient string
	Kind      notification.EventKind
	Extra     map[string]interface{}
}

// Outcome describes the side effects of a transition. The caller applies
// them only after the permit has been saved.
type Outcome struct {
	Changed      bool
	Notices      []Notice
	Reschedule   bool
	CancelTimers bool
	// Audit holds extra changes for the audit entry, for facts the stored
	// permit no longer shows.
	Audit map[string]common_models.Change
}

func (o *Outcome) notify(recipient string, kind notification.EventKind, extra map[string]interface{}) {
	if recipient == "" {
		return
	}
	for _, n := range o.Notices {
		if n.Recipient == recipient && n.Kind == kind {
			return
		}
	}
	o.Notices = append(o.Notices, Notice{Recipient: recipient, Kind: kind, Extra: extra})
}

// notifyAssignee tells the step's approver a decision is needed, or the
// requester that nobody can make it.
func (o *Outcome) notifyAssignee(p *Permit, e *ApprovalEntry, kind notification.EventKind) {
	extra := map[string]interface{}{"step": e.Step, "role": string(e.Role)}
	if e.Approver == nil {
		o.notify(p.RequestedBy, notification.EventApproverUnresolved, extra)
		return
	}
	o.notify(e.Approver.UserID, kind, extra)
}

func (o *Outcome) notifyApprovers(p *Permit, kind notification.EventKind) {
	for _, e := range p.Approvals {
		if e.Approver != nil && e.Status == StepApproved {
			o.notify(e.Approver.UserID, kind, nil)
		}
	}
}

func changed() *Outcome { return &Outcome{Changed: true} }

// Decision is an approve or reject on the current step of a flow. Step is
// optional; when set it must name the step the caller believes is pending.
type Decision struct {
	Approve  bool
	Comments string
	Step     int
}

func (d Decision) stepStatus() StepStatus {
	if d.Approve {
		return StepApproved
	}
	return StepRejected
}

func isAssigned(e *ApprovalEntry, caller common_models.Identity) bool {
	return e.Approver != nil && e.Approver.UserID == caller.UserID
}

func decidedBy(entries []ApprovalEntry, userID string, step int) bool {
	for _, e := range entries {
		if e.Approver == nil || e.Approver.UserID != userID {
			continue
		}
		if (e.Status == StepApproved || e.Status == StepRejected) && (step == 0 || e.Step == step) {
			return true
		}
	}
	return false
}

// selectStep finds the entry caller may decide. A caller whose step was
// already decided gets AlreadyDecided rather than a generic refusal, which is
// how the loser of a concurrent double decision is told apart.
func selectStep(op string, p *Permit, entries []ApprovalEntry, want Status, caller common_models.Identity, d Decision) (int, error) {
	i := pendingIndex(entries)
	if p.Status == want && i >= 0 && isAssigned(&entries[i], caller) && (d.Step == 0 || d.Step == entries[i].Step) {
		return i, nil
	}
	if decidedBy(entries, caller.UserID, d.Step) {
		return -1, newError(ErrAlreadyDecided, op, "step already decided")
	}
	if p.Status != want {
		return -1, newError(ErrInvalidState, op, "permit is %s", p.Status)
	}
	if i < 0 {
		return -1, newError(ErrInvalidState, op, "no step awaiting a decision")
	}
	if d.Step != 0 && d.Step != entries[i].Step {
		return -1, newError(ErrInvalidState, op, "step %d is not awaiting a decision", d.Step)
	}
	return -1, newError(ErrUnauthorized, op, "caller is not the approver of step %d", entries[i].Step)
}

func record(e *ApprovalEntry, d Decision, now time.Time) {
	at := now
	e.Status = d.stepStatus()
	e.Comments = d.Comments
	e.DecidedAt = &at
}

// Submit moves a draft into the approval chain.
func Submit(p *Permit, caller common_models.Identity, now time.Time) (*Outcome, error) {
	const op = "submit"
	if p.Status != StatusDraft {
		return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
	}
	if caller.UserID != p.RequestedBy {
		return nil, newError(ErrUnauthorized, op, "only the requester may submit")
	}

	at := now
	p.Status = StatusSubmitted
	p.SubmittedAt = &at

	o := changed()
	if e := p.PendingApproval(); e != nil {
		o.notifyAssignee(p, e, notification.EventApprovalRequired)
	}
	for _, e := range p.Approvals {
		if e.Status == StepNotReached && e.Approver != nil {
			o.notify(e.Approver.UserID, notification.EventPermitSubmitted, map[string]interface{}{"step": e.Step})
		}
	}
	refreshWarnings(p)
	return o, nil
}

// Decide applies an approval decision on the pending step. Approving the
// last step approves the permit with a provisional expiry.
func Decide(p *Permit, caller common_models.Identity, d Decision, defaultExpiryHours int, now time.Time) (*Outcome, error) {
	const op = "decide"
	i, err := selectStep(op, p, p.Approvals, StatusSubmitted, caller, d)
	if err != nil {
		return nil, err
	}

	e := &p.Approvals[i]
	record(e, d, now)
	o := changed()

	if !d.Approve {
		p.Status = StatusRejected
		o.notify(p.RequestedBy, notification.EventPermitRejected, map[string]interface{}{"step": e.Step, "comments": d.Comments})
		refreshWarnings(p)
		return o, nil
	}

	if next := stepIndex(p.Approvals, e.Step+1); next >= 0 {
		p.Approvals[next].Status = StepPending
		o.notifyAssignee(p, &p.Approvals[next], notification.EventApprovalRequired)
		refreshWarnings(p)
		return o, nil
	}

	if defaultExpiryHours <= 0 {
		defaultExpiryHours = fallbackExpiryHours
	}
	approvedAt := now
	expires := expiryAt(now.Add(time.Duration(defaultExpiryHours) * time.Hour))
	p.Status = StatusApproved
	p.ApprovedAt = &approvedAt
	p.ExpiresAt = &expires
	o.Reschedule = true
	o.notify(p.RequestedBy, notification.EventPermitApproved, nil)
	refreshWarnings(p)
	return o, nil
}

// Activate starts work on an approved permit; expiry comes from the planned
// end date when there is one.
func Activate(p *Permit, caller common_models.Identity, now time.Time) (*Outcome, error) {
	const op = "activate"
	if p.Status != StatusApproved {
		return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
	}
	if caller.UserID != p.RequestedBy {
		return nil, newError(ErrUnauthorized, op, "only the requester may activate")
	}

	at := now
	p.Status = StatusActive
	p.ActivatedAt = &at
	p.ActivatedBy = caller.UserID
	if p.Schedule.EndDate != nil {
		end := expiryAt(*p.Schedule.EndDate)
		p.ExpiresAt = &end
	}

	o := changed()
	o.Reschedule = true
	o.notifyApprovers(p, notification.EventPermitActivated)
	refreshWarnings(p)
	return o, nil
}

// RequestClosure submits the closure checklist for review.
func RequestClosure(p *Permit, caller common_models.Identity, payload map[string]interface{}, now time.Time) (*Outcome, error) {
	const op = "request_closure"
	if p.Status != StatusActive {
		return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
	}
	if caller.UserID != p.RequestedBy {
		return nil, newError(ErrUnauthorized, op, "only the requester may request closure")
	}

	at := now
	p.Status = StatusPendingClosure
	p.Closure.Payload = payload
	p.Closure.RequestedBy = caller.UserID
	p.Closure.RequestedAt = &at
	p.Closure.ApprovedBy = ""
	p.Closure.ApprovedAt = nil
	p.Closure.Comments = ""

	o := changed()
	if p.Closure.Mode == policy.ClosureModeOrdered {
		resetFlow(p.ClosureFlow)
		if len(p.ClosureFlow) > 0 {
			p.ClosureFlow[0].Status = StepPending
			o.notifyAssignee(p, &p.ClosureFlow[0], notification.EventClosureApprovalRequired)
		}
	} else {
		for _, a := range p.Closure.Approvers {
			o.notify(a.UserID, notification.EventClosureRequested, nil)
		}
	}
	refreshWarnings(p)
	return o, nil
}

func resetFlow(entries []ApprovalEntry) {
	for i := range entries {
		entries[i].Status = StepNotReached
		entries[i].Comments = ""
		entries[i].DecidedAt = nil
	}
}

// DecideClosure approves or rejects a pending closure. Any rejection sends
// the permit back to active with the checklist cleared.
func DecideClosure(p *Permit, caller common_models.Identity, d Decision, now time.Time) (*Outcome, error) {
	const op = "decide_closure"
	if p.Closure.Mode == policy.ClosureModeOrdered {
		return decideOrderedClosure(op, p, caller, d, now)
	}

	if p.Status != StatusPendingClosure {
		if p.Status == StatusClosed && p.Closure.ApprovedBy == caller.UserID {
			return nil, newError(ErrAlreadyDecided, op, "closure already decided")
		}
		return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
	}
	if !mayCloseAnyOf(p, caller) {
		return nil, newError(ErrUnauthorized, op, "role %s may not decide closure", caller.Role)
	}

	if !d.Approve {
		return revertClosure(p, caller, 0, d.Comments, now), nil
	}
	return closePermit(p, caller, d.Comments, now), nil
}

func decideOrderedClosure(op string, p *Permit, caller common_models.Identity, d Decision, now time.Time) (*Outcome, error) {
	i, err := selectStep(op, p, p.ClosureFlow, StatusPendingClosure, caller, d)
	if err != nil {
		return nil, err
	}

	e := &p.ClosureFlow[i]
	if !d.Approve {
		return revertClosure(p, caller, e.Step, d.Comments, now), nil
	}

	record(e, d, now)
	if next := stepIndex(p.ClosureFlow, e.Step+1); next >= 0 {
		p.ClosureFlow[next].Status = StepPending
		o := changed()
		o.notifyAssignee(p, &p.ClosureFlow[next], notification.EventClosureApprovalRequired)
		refreshWarnings(p)
		return o, nil
	}
	return closePermit(p, caller, d.Comments, now), nil
}

// mayCloseAnyOf accepts a snapshotted closer, or any holder of a listed role
// within the permit's plant (and area, for area roles).
func mayCloseAnyOf(p *Permit, caller common_models.Identity) bool {
	for _, a := range p.Closure.Approvers {
		if a.UserID == caller.UserID {
			return true
		}
	}
	return slices.Contains(p.Closure.Roles, caller.Role) && inPermitScope(p, caller)
}

// inPermitScope reports whether a role holder sits where the permit's work
// happens: same company, same plant when the caller has one, and the same
// area for area roles.
func inPermitScope(p *Permit, caller common_models.Identity) bool {
	if caller.CompanyID != p.CompanyID {
		return false
	}
	if caller.PlantID != "" && caller.PlantID != p.PlantID {
		return false
	}
	if caller.Role.AreaScoped() && caller.AreaID != "" && caller.AreaID != p.AreaID {
		return false
	}
	return true
}

// revertClosure sends the permit back to active. The flow is reset, so the
// rejection itself only survives in the audit entry.
func revertClosure(p *Permit, caller common_models.Identity, step int, comments string, now time.Time) *Outcome {
	rejection := map[string]interface{}{
		"user_id":     caller.UserID,
		"role":        string(caller.Role),
		"comments":    comments,
		"rejected_at": now,
	}
	if step > 0 {
		rejection["step"] = step
	}

	p.Status = StatusActive
	p.Closure.Payload = nil
	p.Closure.RequestedBy = ""
	p.Closure.RequestedAt = nil
	p.Closure.Comments = comments
	resetFlow(p.ClosureFlow)

	o := changed()
	o.Audit = map[string]common_models.Change{"closure_rejection": {New: rejection}}
	// The expire job may have been skipped while closure was pending.
	o.Reschedule = true
	o.notify(p.RequestedBy, notification.EventClosureRejected, map[string]interface{}{"comments": comments})
	refreshWarnings(p)
	return o
}

func closePermit(p *Permit, caller common_models.Identity, comments string, now time.Time) *Outcome {
	at := now
	p.Status = StatusClosed
	p.ClosedAt = &at
	p.Closure.ApprovedBy = caller.UserID
	p.Closure.ApprovedAt = &at
	p.Closure.Comments = comments

	o := changed()
	o.CancelTimers = true
	o.notify(p.RequestedBy, notification.EventPermitClosed, nil)
	refreshWarnings(p)
	return o
}

// Stop is the safety interrupt. It ignores step ordering but only applies to
// active permits.
func Stop(p *Permit, caller common_models.Identity, reason string, payload map[string]interface{}, now time.Time) (*Outcome, error) {
	const op = "stop"
	if p.Status != StatusActive {
		return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
	}
	if !mayStop(p, caller) {
		return nil, newError(ErrUnauthorized, op, "caller is not authorized to stop work")
	}

	p.Status = StatusStopped
	p.Stop = &StopRecord{
		StoppedBy: caller.UserID,
		Role:      caller.Role,
		Reason:    reason,
		Payload:   payload,
		StoppedAt: now,
	}

	o := changed()
	o.CancelTimers = true
	extra := map[string]interface{}{"reason": reason}
	o.notify(p.RequestedBy, notification.EventPermitStopped, extra)
	for _, e := range p.Approvals {
		if e.Approver != nil && e.Approver.UserID != caller.UserID {
			o.notify(e.Approver.UserID, notification.EventPermitStopped, extra)
		}
	}
	refreshWarnings(p)
	return o, nil
}

func mayStop(p *Permit, caller common_models.Identity) bool {
	if caller.Role.Administrative() {
		return true
	}
	for _, s := range p.StopWorkRoles {
		if s.ResolvedUserID != "" && s.ResolvedUserID == caller.UserID {
			return true
		}
	}
	return false
}

// Extend pushes expiry out by hours, within the caller role's cap. An expired
// permit becomes active again.
func Extend(p *Permit, caller common_models.Identity, hours int, reason string, pol *policy.ModulePolicy, now time.Time) (*Outcome, error) {
	const op = "extend"
	if p.Status != StatusActive && p.Status != StatusExpired {
		return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
	}
	if hours <= 0 {
		return nil, newError(ErrValidation, op, "hours must be positive")
	}
	maxHours, ok := pol.MaxExtensionHours(caller.Role)
	if !ok {
		return nil, newError(ErrUnauthorized, op, "role %s may not extend permits", caller.Role)
	}
	if !inPermitScope(p, caller) {
		return nil, newError(ErrUnauthorized, op, "%s is outside the permit's plant or area", caller.UserID)
	}
	if hours > maxHours {
		return nil, newError(ErrPolicyViolation, op, "%d hours exceeds the %d hour limit for %s", hours, maxHours, caller.Role)
	}

	previous := now
	if p.ExpiresAt != nil {
		previous = *p.ExpiresAt
	}
	base := previous
	if now.After(base) {
		base = now
	}
	expires := expiryAt(base.Add(time.Duration(hours) * time.Hour))

	p.Extensions = append(p.Extensions, Extension{
		Hours:             hours,
		Reason:            reason,
		RequestedBy:       caller.UserID,
		ApprovedBy:        caller.UserID,
		PreviousExpiresAt: previous,
		NewExpiresAt:      expires,
		Timestamp:         now,
	})
	p.ExpiresAt = &expires
	p.ExpiredAt = nil
	p.Status = StatusActive

	o := changed()
	o.Reschedule = true
	o.notify(p.RequestedBy, notification.EventPermitExtended, map[string]interface{}{
		"hours":      hours,
		"expires_at": expires,
	})
	refreshWarnings(p)
	return o, nil
}

// Expire is driven by the expire job. It is a no-op unless the permit is
// active and its current expiry, the one the job was scheduled for, has passed.
func Expire(p *Permit, scheduledFor time.Time, now time.Time) (*Outcome, error) {
	if p.Status != StatusActive || p.ExpiresAt == nil {
		return &Outcome{}, nil
	}
	if !scheduledFor.IsZero() && expiryAt(*p.ExpiresAt).After(expiryAt(scheduledFor)) {
		// extended since the job was scheduled
		return &Outcome{}, nil
	}
	if p.ExpiresAt.After(now) {
		return nil, errNotDue
	}

	at := now
	p.Status = StatusExpired
	p.ExpiredAt = &at

	o := changed()
	o.notify(p.RequestedBy, notification.EventPermitExpired, nil)
	refreshWarnings(p)
	return o, nil
}

// RemindExpiry records that the expiry reminder went out for the current
// expiry, so a redelivered job does not notify twice.
func RemindExpiry(p *Permit, scheduledFor time.Time) (*Outcome, error) {
	if (p.Status != StatusActive && p.Status != StatusApproved) || p.ExpiresAt == nil {
		return &Outcome{}, nil
	}
	if !scheduledFor.IsZero() && !sameExpiry(*p.ExpiresAt, scheduledFor) {
		return &Outcome{}, nil
	}
	if p.ReminderSentFor != nil && sameExpiry(*p.ReminderSentFor, *p.ExpiresAt) {
		return &Outcome{}, nil
	}

	sent := *p.ExpiresAt
	p.ReminderSentFor = &sent

	o := changed()
	o.notify(p.RequestedBy, notification.EventPermitExpiring, map[string]interface{}{"expires_at": sent})
	return o, nil
}

// Reassign lets an administrator put a person on a step that has not been
// decided yet, typically one that resolved to nobody.
func Reassign(p *Permit, caller common_models.Identity, flow string, step int, approver Approver) (*Outcome, error) {
	const op = "reassign"
	if !caller.Role.Administrative() && !caller.Role.CompanyScoped() {
		return nil, newError(ErrUnauthorized, op, "role %s may not reassign approvers", caller.Role)
	}
	if approver.UserID == "" {
		return nil, newError(ErrValidation, op, "approver user id is required")
	}

	var entries []ApprovalEntry
	kind := notification.EventApprovalRequired
	switch flow {
	case FlowApproval:
		if p.Status != StatusDraft && p.Status != StatusSubmitted {
			return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
		}
		entries = p.Approvals
	case FlowClosure:
		if p.Closure.Mode != policy.ClosureModeOrdered {
			return nil, newError(ErrValidation, op, "closure has no steps to reassign")
		}
		if p.Status.Terminal() {
			return nil, newError(ErrInvalidState, op, "permit is %s", p.Status)
		}
		entries = p.ClosureFlow
		kind = notification.EventClosureApprovalRequired
	default:
		return nil, newError(ErrValidation, op, "unknown flow %q", flow)
	}

	i := stepIndex(entries, step)
	if i < 0 {
		return nil, newError(ErrValidation, op, "no %s step %d", flow, step)
	}
	e := &entries[i]
	if e.Status != StepNotReached && e.Status != StepPending {
		return nil, newError(ErrInvalidState, op, "%s step %d is already %s", flow, step, e.Status)
	}

	approver.Role = e.Role
	e.Approver = &approver

	o := changed()
	if e.Status == StepPending && ((flow == FlowApproval && p.Status == StatusSubmitted) || (flow == FlowClosure && p.Status == StatusPendingClosure)) {
		o.notifyAssignee(p, e, kind)
	}
	refreshWarnings(p)
	return o, nil
}

// CheckDelete allows removing drafts only; anything submitted stays for audit.
func CheckDelete(p *Permit, caller common_models.Identity) error {
	const op = "delete"
	if p.Status != StatusDraft {
		return newError(ErrInvalidState, op, "only draft permits can be deleted")
	}
	if caller.UserID != p.RequestedBy && !caller.Role.Administrative() {
		return newError(ErrUnauthorized, op, "only the requester may delete")
	}
	return nil
}
