package permit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-ptw/internal/clock"
	common_models "go-ptw/internal/common/models"
	"go-ptw/internal/features/audit"
	"go-ptw/internal/features/directory"
	"go-ptw/internal/features/notification"
	"go-ptw/internal/features/policy"
	"go-ptw/internal/features/reminder"
	"go-ptw/internal/features/scheduler"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const auditModule = "permits"

type CreateInput struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Location    string                 `json:"location"`
	Types       []string               `json:"types"`
	IsHighRisk  bool                   `json:"is_high_risk"`
	PlantID     string                 `json:"plant_id"`
	AreaID      string                 `json:"area_id"`
	Schedule    Schedule               `json:"schedule"`
	WorkDetails map[string]interface{} `json:"work_details"`
}

type ListFilter struct {
	Status  string
	PlantID string
	AreaID  string
	Type    string
}

type StopInput struct {
	Reason  string                 `json:"reason"`
	Payload map[string]interface{} `json:"payload"`
}

type ExtendInput struct {
	Hours  int    `json:"hours"`
	Reason string `json:"reason"`
}

type ReassignInput struct {
	Flow   string `json:"flow"`
	Step   int    `json:"step"`
	UserID string `json:"user_id"`
}

type PermitService interface {
	Create(ctx context.Context, caller common_models.Identity, in CreateInput) (*Permit, error)
	Get(ctx context.Context, caller common_models.Identity, id string) (*Permit, error)
	List(ctx context.Context, caller common_models.Identity, f ListFilter, page, limit int64) ([]Permit, int64, error)
	Delete(ctx context.Context, caller common_models.Identity, id string) error

	Submit(ctx context.Context, caller common_models.Identity, id string) (*Permit, error)
	Decide(ctx context.Context, caller common_models.Identity, id string, d Decision) (*Permit, error)
	Activate(ctx context.Context, caller common_models.Identity, id string) (*Permit, error)
	RequestClosure(ctx context.Context, caller common_models.Identity, id string, payload map[string]interface{}) (*Permit, error)
	DecideClosure(ctx context.Context, caller common_models.Identity, id string, d Decision) (*Permit, error)
	Stop(ctx context.Context, caller common_models.Identity, id string, in StopInput) (*Permit, error)
	Extend(ctx context.Context, caller common_models.Identity, id string, in ExtendInput) (*Permit, error)
	Reassign(ctx context.Context, caller common_models.Identity, id string, in ReassignInput) (*Permit, error)

	// Scheduler job handlers.
	Expire(ctx context.Context, job scheduler.Job) error
	RemindExpiry(ctx context.Context, job scheduler.Job) error
}

type PermitServiceImpl struct {
	Repo      PermitRepository
	Builder   *ChainBuilder
	Policies  policy.PolicyService
	Directory directory.DirectoryRepository
	Audit     audit.AuditService
	Reminders reminder.Client
	Notifier  notification.Notifier
	Clock     clock.Clock
	Logger    *zap.Logger
}

func NewPermitService(
	repo PermitRepository,
	builder *ChainBuilder,
	policies policy.PolicyService,
	directoryRepo directory.DirectoryRepository,
	auditService audit.AuditService,
	reminders reminder.Client,
	notifier notification.Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) PermitService {
	return &PermitServiceImpl{
		Repo:      repo,
		Builder:   builder,
		Policies:  policies,
		Directory: directoryRepo,
		Audit:     auditService,
		Reminders: reminders,
		Notifier:  notifier,
		Clock:     clk,
		Logger:    logger,
	}
}

// RegisterJobHandlers routes fired scheduler jobs to the permit transitions.
func RegisterJobHandlers(timer scheduler.Timer, svc PermitService) {
	timer.Handle(reminder.KindExpire, svc.Expire)
	timer.Handle(reminder.KindExpiryReminder, svc.RemindExpiry)
}

func (s *PermitServiceImpl) Create(ctx context.Context, caller common_models.Identity, in CreateInput) (*Permit, error) {
	const op = "create"
	if strings.TrimSpace(in.Title) == "" {
		return nil, newError(ErrValidation, op, "title is required")
	}
	if len(in.Types) == 0 {
		return nil, newError(ErrValidation, op, "at least one work type is required")
	}
	if in.PlantID == "" {
		in.PlantID = caller.PlantID
	}
	if in.AreaID == "" {
		in.AreaID = caller.AreaID
	}
	if in.PlantID == "" || in.AreaID == "" {
		return nil, newError(ErrValidation, op, "plant_id and area_id are required")
	}
	if caller.PlantID != "" && in.PlantID != caller.PlantID {
		return nil, newError(ErrUnauthorized, op, "cannot raise permits outside your plant")
	}
	if st, end := in.Schedule.StartDate, in.Schedule.EndDate; st != nil && end != nil && !end.After(*st) {
		return nil, newError(ErrValidation, op, "schedule end must be after start")
	}

	pol, err := s.Policies.GetPolicy(ctx, caller.CompanyID, policy.ModulePTW)
	if err != nil {
		return nil, fmt.Errorf("%s: load policy: %w", op, err)
	}

	p := &Permit{
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		Location:         in.Location,
		Types:            in.Types,
		DeclaredHighRisk: in.IsHighRisk,
		CompanyID:        caller.CompanyID,
		PlantID:          in.PlantID,
		AreaID:           in.AreaID,
		RequestedBy:      caller.UserID,
		Schedule:         in.Schedule,
		WorkDetails:      in.WorkDetails,
		Extensions:       []Extension{},
		Status:           StatusDraft,
	}
	if err := s.Builder.Build(ctx, pol, p); err != nil {
		return nil, fmt.Errorf("%s: build chain: %w", op, err)
	}

	number, err := s.Repo.NextNumber(ctx, p.CompanyID, s.Clock.Now().Year())
	if err != nil {
		return nil, err
	}
	p.PermitNumber = number

	if err := s.Repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: save permit: %w", op, err)
	}

	s.audit(ctx, common_models.AuditActionCreate, p, map[string]common_models.Change{
		"permit_number": {New: p.PermitNumber},
		"status":        {New: p.Status},
		"is_high_risk":  {New: p.IsHighRisk},
	})
	s.Logger.Info("Permit created",
		zap.String("permit_id", p.ID.Hex()),
		zap.String("tenant_id", p.CompanyID),
		zap.String("permit_number", p.PermitNumber),
		zap.Bool("high_risk", p.IsHighRisk),
	)
	return p, nil
}

func (s *PermitServiceImpl) Get(ctx context.Context, caller common_models.Identity, id string) (*Permit, error) {
	p, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || !VisibilityFor(caller).Matches(p) {
		return nil, newError(ErrNotFound, "get", "permit %s", id)
	}
	return p, nil
}

func (s *PermitServiceImpl) List(ctx context.Context, caller common_models.Identity, f ListFilter, page, limit int64) ([]Permit, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	extra := bson.M{}
	if f.Status != "" {
		extra["status"] = f.Status
	}
	if f.PlantID != "" {
		extra["plant_id"] = f.PlantID
	}
	if f.AreaID != "" {
		extra["area_id"] = f.AreaID
	}
	if f.Type != "" {
		extra["types"] = f.Type
	}

	filter := VisibilityFor(caller).BSON()
	if len(extra) > 0 {
		filter = bson.M{"$and": bson.A{filter, extra}}
	}
	return s.Repo.List(ctx, filter, page, limit)
}

func (s *PermitServiceImpl) Delete(ctx context.Context, caller common_models.Identity, id string) error {
	p, err := s.load(ctx, "delete", &caller, id)
	if err != nil {
		return err
	}
	if err := CheckDelete(p, caller); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id, p.Version); err != nil {
		return err
	}
	s.audit(ctx, common_models.AuditActionDelete, p, map[string]common_models.Change{
		"permit_number": {Old: p.PermitNumber, New: "DELETED"},
	})
	return nil
}

func (s *PermitServiceImpl) Submit(ctx context.Context, caller common_models.Identity, id string) (*Permit, error) {
	return s.transition(ctx, "submit", &caller, id, 1, func(p *Permit, _ *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		return Submit(p, caller, now)
	})
}

// Decide retries once on a version conflict so that the losing side of a
// concurrent decision on the same step sees AlreadyDecided. The retry stays on
// the step that was pending when the caller first read the permit, otherwise
// someone holding consecutive steps would decide the next one by accident.
func (s *PermitServiceImpl) Decide(ctx context.Context, caller common_models.Identity, id string, d Decision) (*Permit, error) {
	return s.transition(ctx, "decide", &caller, id, 2, func(p *Permit, pol *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		pinStep(&d, caller, p.Approvals)
		return Decide(p, caller, d, pol.DefaultExpiryHours, now)
	})
}

func (s *PermitServiceImpl) Activate(ctx context.Context, caller common_models.Identity, id string) (*Permit, error) {
	return s.transition(ctx, "activate", &caller, id, 1, func(p *Permit, _ *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		return Activate(p, caller, now)
	})
}

func (s *PermitServiceImpl) RequestClosure(ctx context.Context, caller common_models.Identity, id string, payload map[string]interface{}) (*Permit, error) {
	return s.transition(ctx, "request_closure", &caller, id, 1, func(p *Permit, _ *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		return RequestClosure(p, caller, payload, now)
	})
}

func (s *PermitServiceImpl) DecideClosure(ctx context.Context, caller common_models.Identity, id string, d Decision) (*Permit, error) {
	return s.transition(ctx, "decide_closure", &caller, id, 2, func(p *Permit, _ *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		pinStep(&d, caller, p.ClosureFlow)
		return DecideClosure(p, caller, d, now)
	})
}

// pinStep fixes an unspecified decision to the pending step the caller holds.
func pinStep(d *Decision, caller common_models.Identity, entries []ApprovalEntry) {
	if d.Step != 0 {
		return
	}
	if i := pendingIndex(entries); i >= 0 && isAssigned(&entries[i], caller) {
		d.Step = entries[i].Step
	}
}

func (s *PermitServiceImpl) Stop(ctx context.Context, caller common_models.Identity, id string, in StopInput) (*Permit, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, newError(ErrValidation, "stop", "reason is required")
	}
	return s.transition(ctx, "stop", &caller, id, 1, func(p *Permit, _ *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		return Stop(p, caller, in.Reason, in.Payload, now)
	})
}

func (s *PermitServiceImpl) Extend(ctx context.Context, caller common_models.Identity, id string, in ExtendInput) (*Permit, error) {
	return s.transition(ctx, "extend", &caller, id, 1, func(p *Permit, pol *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		return Extend(p, caller, in.Hours, in.Reason, pol, now)
	})
}

func (s *PermitServiceImpl) Reassign(ctx context.Context, caller common_models.Identity, id string, in ReassignInput) (*Permit, error) {
	const op = "reassign"
	users, err := s.Directory.FindUsersByIDs(ctx, []string{in.UserID})
	if err != nil {
		return nil, fmt.Errorf("%s: load user: %w", op, err)
	}
	if len(users) == 0 || !users[0].Active || users[0].CompanyID != caller.CompanyID {
		return nil, newError(ErrValidation, op, "user %s is not an active member of the company", in.UserID)
	}
	approver := Approver{UserID: users[0].ID.Hex(), Name: users[0].Name}

	return s.transition(ctx, op, &caller, id, 1, func(p *Permit, _ *policy.ModulePolicy, _ time.Time) (*Outcome, error) {
		return Reassign(p, caller, in.Flow, in.Step, approver)
	})
}

func (s *PermitServiceImpl) Expire(ctx context.Context, job scheduler.Job) error {
	scheduledFor, _ := reminder.ExpiresAtFromPayload(job.Payload)
	return s.runJob(ctx, "expire", job, func(p *Permit, _ *policy.ModulePolicy, now time.Time) (*Outcome, error) {
		return Expire(p, scheduledFor, now)
	})
}

func (s *PermitServiceImpl) RemindExpiry(ctx context.Context, job scheduler.Job) error {
	scheduledFor, _ := reminder.ExpiresAtFromPayload(job.Payload)
	return s.runJob(ctx, "remind_expiry", job, func(p *Permit, _ *policy.ModulePolicy, _ time.Time) (*Outcome, error) {
		return RemindExpiry(p, scheduledFor)
	})
}

// runJob applies a scheduler-driven transition. A permit that no longer
// exists is not an error; anything else is returned so the job is retried.
func (s *PermitServiceImpl) runJob(ctx context.Context, op string, job scheduler.Job, apply applyFunc) error {
	permitID := job.Payload["permit_id"]
	ctx = audit.WithActor(ctx, "system")

	_, err := s.transition(ctx, op, nil, permitID, 2, apply)
	if errors.Is(err, ErrNotFound) {
		s.Logger.Info("Job target permit is gone", zap.String("job_key", job.Key), zap.String("permit_id", permitID))
		return nil
	}
	return err
}

type applyFunc func(p *Permit, pol *policy.ModulePolicy, now time.Time) (*Outcome, error)

// transition is the single read-modify-write path: load, apply the pure
// transition, save against the loaded version, then run side effects. Side
// effect failures are logged and never undo the saved transition.
func (s *PermitServiceImpl) transition(ctx context.Context, op string, caller *common_models.Identity, id string, attempts int, apply applyFunc) (*Permit, error) {
	var conflict error
	for attempt := 0; attempt < attempts; attempt++ {
		p, err := s.load(ctx, op, caller, id)
		if err != nil {
			return nil, err
		}
		pol, err := s.Policies.GetPolicy(ctx, p.CompanyID, policy.ModulePTW)
		if err != nil {
			return nil, fmt.Errorf("%s: load policy: %w", op, err)
		}

		before := p.Status
		version := p.Version
		outcome, err := apply(p, pol, s.Clock.Now())
		if err != nil {
			return nil, err
		}
		if !outcome.Changed {
			return p, nil
		}

		if err := s.Repo.Save(ctx, p, version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				conflict = err
				s.Logger.Info("Permit changed concurrently",
					zap.String("permit_id", id),
					zap.String("op", op),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			return nil, fmt.Errorf("%s: save permit: %w", op, err)
		}

		s.afterCommit(ctx, op, p, before, outcome)
		return p, nil
	}
	return nil, conflict
}

func (s *PermitServiceImpl) load(ctx context.Context, op string, caller *common_models.Identity, id string) (*Permit, error) {
	p, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: load permit: %w", op, err)
	}
	if p == nil || (caller != nil && p.CompanyID != caller.CompanyID) {
		return nil, newError(ErrNotFound, op, "permit %s", id)
	}
	return p, nil
}

func (s *PermitServiceImpl) afterCommit(ctx context.Context, op string, p *Permit, before Status, o *Outcome) {
	permitID := p.ID.Hex()
	changes := map[string]common_models.Change{
		"operation": {New: op},
		"status":    {Old: before, New: p.Status},
	}
	for k, v := range o.Audit {
		changes[k] = v
	}
	s.audit(ctx, common_models.AuditActionPermit, p, changes)
	s.Logger.Info("Permit transition",
		zap.String("permit_id", permitID),
		zap.String("tenant_id", p.CompanyID),
		zap.String("op", op),
		zap.String("from", string(before)),
		zap.String("to", string(p.Status)),
	)

	if o.CancelTimers {
		if err := s.Reminders.Cancel(ctx, permitID); err != nil {
			s.Logger.Warn("Failed to cancel permit timers", zap.String("permit_id", permitID), zap.Error(err))
		}
	} else if o.Reschedule && p.ExpiresAt != nil {
		if err := s.Reminders.ScheduleExpiry(ctx, p.CompanyID, permitID, *p.ExpiresAt); err != nil {
			s.Logger.Warn("Failed to schedule permit expiry", zap.String("permit_id", permitID), zap.Error(err))
		}
	}

	for _, n := range o.Notices {
		metadata := map[string]interface{}{
			"permit_id":     permitID,
			"permit_number": p.PermitNumber,
			"status":        string(p.Status),
		}
		for k, v := range n.Extra {
			metadata[k] = v
		}
		s.Notifier.Notify(ctx, n.Recipient, n.Kind, metadata)
	}
}

func (s *PermitServiceImpl) audit(ctx context.Context, action common_models.AuditAction, p *Permit, changes map[string]common_models.Change) {
	if err := s.Audit.LogChange(ctx, action, auditModule, p.ID.Hex(), changes); err != nil {
		s.Logger.Warn("Failed to write audit entry", zap.String("permit_id", p.ID.Hex()), zap.Error(err))
	}
}
