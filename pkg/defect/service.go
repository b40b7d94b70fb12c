package defect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// ExecutionRef is the slice of a test execution the defect lifecycle needs:
// enough to verify a retest reference and to seed a retest execution.
type ExecutionRef struct {
	ID         string
	TestCaseID string
	RunID      string
	DefectID   string
	Status     string
}

// ExecutionLookup resolves execution references without this package importing
// the execution package. The server wires the execution service in at
// assembly time.
type ExecutionLookup interface {
	LookupExecution(ctx context.Context, program, id string) (*ExecutionRef, error)
}

// TransitionEvent describes a committed defect state transition.
type TransitionEvent struct {
	Program           string
	DefectID          string
	Action            string
	From              DefectStatus
	To                DefectStatus
	Actor             string
	OriginExecutionID string
	TestCaseID        string
	RunID             string
}

// TransitionHook receives transition events after they are committed. Hooks
// run synchronously on the request goroutine.
type TransitionHook interface {
	DefectTransitioned(ctx context.Context, event TransitionEvent)
}

// Service implements the defect lifecycle: creation, triage, the state
// machine, SLA clocks, and typed links.
type Service struct {
	store      *Store
	machine    *Machine
	matrix     Matrix
	executions ExecutionLookup
	hooks      []TransitionHook
	logger     *slog.Logger
}

// NewService creates a defect Service with the default transition table and
// SLA matrix.
func NewService(store *Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		machine: NewMachine(),
		matrix:  DefaultMatrix(),
		logger:  logger,
	}
}

// SetMatrix replaces the SLA matrix, typically with one loaded from config.
func (s *Service) SetMatrix(matrix Matrix) {
	s.matrix = matrix
}

// SetExecutionLookup wires in execution resolution. Without it, origin and
// retest execution references are accepted unverified.
func (s *Service) SetExecutionLookup(lookup ExecutionLookup) {
	s.executions = lookup
}

// OnTransition registers a hook invoked after every committed transition.
func (s *Service) OnTransition(hook TransitionHook) {
	s.hooks = append(s.hooks, hook)
}

// CreateDefect registers a new defect in state NEW.
func (s *Service) CreateDefect(ctx context.Context, req CreateDefectRequest) (*Defect, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, &ValidationError{Field: "title", Message: "title is required"}
	}
	if !ValidSeverity(req.Severity) {
		return nil, &ValidationError{Field: "severity", Message: fmt.Sprintf("severity must be one of S1..S4, got %q", req.Severity)}
	}
	if !ValidPriority(req.Priority) {
		return nil, &ValidationError{Field: "priority", Message: fmt.Sprintf("priority must be one of P1..P4, got %q", req.Priority)}
	}

	program := programFrom(ctx)
	raisedBy := req.RaisedBy
	if raisedBy == "" {
		raisedBy = authz.Actor(ctx)
	}

	testCaseID, runID := req.TestCaseID, req.RunID
	if req.OriginExecutionID != "" && s.executions != nil {
		ref, err := s.executions.LookupExecution(ctx, program, req.OriginExecutionID)
		if err != nil {
			return nil, fmt.Errorf("resolve origin execution: %w", err)
		}
		if ref == nil {
			return nil, &ValidationError{Field: "originExecutionId", Message: fmt.Sprintf("execution %q not found", req.OriginExecutionID)}
		}
		if testCaseID == "" {
			testCaseID = ref.TestCaseID
		}
		if runID == "" {
			runID = ref.RunID
		}
	}

	rec := &DefectRecord{
		ID:                uuid.New().String(),
		Program:           program,
		Title:             req.Title,
		Description:       req.Description,
		Severity:          string(req.Severity),
		Priority:          string(req.Priority),
		Status:            string(StatusNew),
		Component:         req.Component,
		Environment:       req.Environment,
		RaisedBy:          raisedBy,
		OriginExecutionID: req.OriginExecutionID,
		TestCaseID:        testCaseID,
		RunID:             runID,
		Version:           1,
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "defects",
		ResourceID:   rec.ID,
		Action:       "create",
		Outcome:      audit.OutcomeSuccess,
		NewValue: audit.JSONAny{
			"title":    req.Title,
			"severity": string(req.Severity),
			"priority": string(req.Priority),
			"status":   string(StatusNew),
		},
	}

	if err := s.store.Create(rec, event); err != nil {
		return nil, err
	}

	s.logger.Info("defect created",
		"program", program,
		"defect", rec.ID,
		"severity", rec.Severity,
		"priority", rec.Priority)

	d := s.decorate(rec, nil)
	return &d, nil
}

// GetDefect returns a defect with its links and current SLA reading.
func (s *Service) GetDefect(ctx context.Context, id string) (*Defect, error) {
	program := programFrom(ctx)
	rec, err := s.store.Get(program, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "defect", ID: id}
	}
	links, err := s.store.ListLinks(program, id)
	if err != nil {
		return nil, err
	}
	d := s.decorate(rec, links)
	return &d, nil
}

// ListDefects returns a page of defects matching the filter.
func (s *Service) ListDefects(ctx context.Context, filter ListFilter, pageSize int, pageToken string) (*DefectList, error) {
	records, nextToken, totalSize, err := s.store.List(programFrom(ctx), filter, pageSize, pageToken)
	if err != nil {
		return nil, err
	}
	items := make([]Defect, 0, len(records))
	for i := range records {
		items = append(items, s.decorate(&records[i], nil))
	}
	return &DefectList{Items: items, TotalSize: int64(totalSize), NextPageToken: nextToken}, nil
}

// UpdateDefect applies re-triage changes to a defect's descriptive fields.
// Severity or priority changes on an assigned defect recompute the SLA
// deadline from the original assignment time, so re-triage tightens or
// relaxes the existing clock rather than restarting it.
func (s *Service) UpdateDefect(ctx context.Context, id string, req UpdateDefectRequest) (*Defect, error) {
	program := programFrom(ctx)
	rec, err := s.store.Get(program, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "defect", ID: id}
	}
	if req.Version != 0 && req.Version != rec.Version {
		return nil, &ConcurrentModificationError{DefectID: id, ExpectedVersion: req.Version}
	}

	updates := map[string]any{}
	oldValue := audit.JSONAny{}
	newValue := audit.JSONAny{}
	set := func(column, old, val string) {
		updates[column] = val
		oldValue[column] = old
		newValue[column] = val
	}

	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, &ValidationError{Field: "title", Message: "title cannot be cleared"}
		}
		set("title", rec.Title, *req.Title)
	}
	if req.Description != nil {
		set("description", rec.Description, *req.Description)
	}
	if req.Component != nil {
		set("component", rec.Component, *req.Component)
	}
	if req.RootCause != nil {
		set("root_cause", rec.RootCause, *req.RootCause)
	}

	severity := Severity(rec.Severity)
	priority := Priority(rec.Priority)
	if req.Severity != nil {
		if !ValidSeverity(*req.Severity) {
			return nil, &ValidationError{Field: "severity", Message: fmt.Sprintf("severity must be one of S1..S4, got %q", *req.Severity)}
		}
		severity = *req.Severity
		set("severity", rec.Severity, string(severity))
	}
	if req.Priority != nil {
		if !ValidPriority(*req.Priority) {
			return nil, &ValidationError{Field: "priority", Message: fmt.Sprintf("priority must be one of P1..P4, got %q", *req.Priority)}
		}
		priority = *req.Priority
		set("priority", rec.Priority, string(priority))
	}
	if len(updates) == 0 {
		return nil, &ValidationError{Field: "body", Message: "no fields to update"}
	}

	retriaged := string(severity) != rec.Severity || string(priority) != rec.Priority
	if retriaged && rec.AssignedAt != nil {
		deadline, err := s.matrix.Deadline(*rec.AssignedAt, severity, priority)
		if err != nil {
			return nil, err
		}
		updates["sla_deadline"] = deadline
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "defects",
		ResourceID:   id,
		Action:       "update",
		Outcome:      audit.OutcomeSuccess,
		OldValue:     oldValue,
		NewValue:     newValue,
	}

	if err := s.store.Update(id, rec.Version, updates, event); err != nil {
		return nil, err
	}
	return s.GetDefect(ctx, id)
}

// Transition moves a defect to the requested target state. The transition
// table decides legality; this method enforces the state-specific required
// fields, the assignee invariant for ASSIGNED, retest execution verification,
// and the SLA clock reset.
func (s *Service) Transition(ctx context.Context, id string, req TransitionRequest) (*Defect, error) {
	program := programFrom(ctx)
	rec, err := s.store.Get(program, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "defect", ID: id}
	}

	from := DefectStatus(rec.Status)
	rule, err := s.machine.Resolve(from, req.TargetStatus)
	if err != nil {
		return nil, err
	}
	if req.Version != 0 && req.Version != rec.Version {
		return nil, &ConcurrentModificationError{DefectID: id, ExpectedVersion: req.Version}
	}

	if rule.RequiresReason && strings.TrimSpace(req.Reason) == "" {
		return nil, &ValidationError{Field: "reason", Message: fmt.Sprintf("%s requires a reason", rule.Action)}
	}
	if rule.RequiresResolution && !ValidResolutionType(req.ResolutionType) {
		return nil, &ValidationError{Field: "resolutionType", Message: fmt.Sprintf("resolving a defect requires a resolution type, got %q", req.ResolutionType)}
	}

	if rule.RequiresExecutionRef {
		if req.RetestExecutionID == "" {
			return nil, &ValidationError{Field: "retestExecutionId", Message: fmt.Sprintf("%s requires a retest execution reference", rule.Action)}
		}
		if err := s.verifyRetestRef(ctx, program, rec, rule, req.RetestExecutionID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	updates := map[string]any{"status": string(rule.To)}
	newValue := audit.JSONAny{"status": string(rule.To)}

	switch rule.To {
	case StatusAssigned:
		assignee := req.AssignedTo
		if assignee == "" {
			assignee = rec.AssignedTo
		}
		if assignee == "" {
			return nil, &ValidationError{Field: "assignedTo", Message: "an assignee is required to enter ASSIGNED"}
		}
		deadline, err := s.matrix.Deadline(now, Severity(rec.Severity), Priority(rec.Priority))
		if err != nil {
			return nil, err
		}
		updates["assigned_to"] = assignee
		updates["assigned_at"] = now
		updates["sla_deadline"] = deadline
		newValue["assignedTo"] = assignee
		newValue["slaDeadline"] = deadline.Format(time.RFC3339)
	case StatusResolved:
		updates["resolution_type"] = string(req.ResolutionType)
		newValue["resolutionType"] = string(req.ResolutionType)
		if strings.TrimSpace(req.RootCause) != "" {
			updates["root_cause"] = req.RootCause
		}
	case StatusReopened, StatusDeferred:
		// The clock stops; the next entry to ASSIGNED starts a fresh one.
		updates["assigned_at"] = nil
		updates["sla_deadline"] = nil
	}

	transition := &TransitionRecord{
		ID:                uuid.New().String(),
		Program:           program,
		DefectID:          id,
		Action:            rule.Action,
		FromStatus:        string(from),
		ToStatus:          string(rule.To),
		Actor:             authz.Actor(ctx),
		Reason:            req.Reason,
		ResolutionType:    string(req.ResolutionType),
		RetestExecutionID: req.RetestExecutionID,
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeTransition,
		Actor:        authz.Actor(ctx),
		ResourceType: "defects",
		ResourceID:   id,
		Action:       rule.Action,
		Outcome:      audit.OutcomeSuccess,
		Reason:       req.Reason,
		OldValue:     audit.JSONAny{"status": string(from)},
		NewValue:     newValue,
	}

	if err := s.store.ApplyTransition(id, rec.Version, updates, transition, event); err != nil {
		return nil, err
	}

	s.logger.Info("defect transitioned",
		"program", program,
		"defect", id,
		"action", rule.Action,
		"from", string(from),
		"to", string(rule.To))

	s.notifyTransition(ctx, TransitionEvent{
		Program:           program,
		DefectID:          id,
		Action:            rule.Action,
		From:              from,
		To:                rule.To,
		Actor:             authz.Actor(ctx),
		OriginExecutionID: rec.OriginExecutionID,
		TestCaseID:        rec.TestCaseID,
		RunID:             rec.RunID,
	})

	return s.GetDefect(ctx, id)
}

// verifyRetestRef checks that a retest verdict cites a real execution linked
// back to this defect, and that the execution's status matches the verdict:
// retest_pass needs PASS, retest_fail needs FAIL or BLOCKED.
func (s *Service) verifyRetestRef(ctx context.Context, program string, rec *DefectRecord, rule *TransitionRule, executionID string) error {
	if s.executions == nil {
		return nil
	}
	ref, err := s.executions.LookupExecution(ctx, program, executionID)
	if err != nil {
		return fmt.Errorf("resolve retest execution: %w", err)
	}
	if ref == nil {
		return &ValidationError{Field: "retestExecutionId", Message: fmt.Sprintf("execution %q not found", executionID)}
	}
	if ref.DefectID != rec.ID {
		return &ValidationError{Field: "retestExecutionId", Message: fmt.Sprintf("execution %s is not a retest of this defect", executionID)}
	}
	switch rule.Action {
	case ActionRetestPass:
		if ref.Status != "PASS" {
			return &ValidationError{Field: "retestExecutionId", Message: fmt.Sprintf("retest execution %s did not pass (status %s)", executionID, ref.Status)}
		}
	case ActionRetestFail:
		if ref.Status != "FAIL" && ref.Status != "BLOCKED" {
			return &ValidationError{Field: "retestExecutionId", Message: fmt.Sprintf("retest execution %s did not fail (status %s)", executionID, ref.Status)}
		}
	}
	return nil
}

func (s *Service) notifyTransition(ctx context.Context, event TransitionEvent) {
	for _, hook := range s.hooks {
		hook.DefectTransitioned(ctx, event)
	}
}

// SLAStatus returns the current SLA reading for a defect, or nil if its
// clock has never started.
func (s *Service) SLAStatus(ctx context.Context, id string) (*SLAInfo, error) {
	rec, err := s.store.Get(programFrom(ctx), id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "defect", ID: id}
	}
	return s.slaInfo(rec), nil
}

// ListTransitions returns a defect's transition history, oldest first.
func (s *Service) ListTransitions(ctx context.Context, id string) ([]Transition, error) {
	program := programFrom(ctx)
	rec, err := s.store.Get(program, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "defect", ID: id}
	}
	records, err := s.store.ListTransitions(program, id)
	if err != nil {
		return nil, err
	}
	transitions := make([]Transition, 0, len(records))
	for _, r := range records {
		transitions = append(transitions, transitionRecordToTransition(r))
	}
	return transitions, nil
}

// CreateLink adds a typed link from a defect. Defect-targeted links require
// the target defect to exist; blocks links target a gate entity instead.
func (s *Service) CreateLink(ctx context.Context, defectID string, req LinkRequest) (*Link, error) {
	program := programFrom(ctx)
	rec, err := s.store.Get(program, defectID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "defect", ID: defectID}
	}
	if !ValidLinkType(req.Type) {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown link type %q", req.Type)}
	}

	var targetType, targetID string
	if req.Type == LinkBlocks {
		if req.EntityType == "" || req.EntityID == "" {
			return nil, &ValidationError{Field: "entityId", Message: "blocks links require entityType and entityId"}
		}
		targetType, targetID = req.EntityType, req.EntityID
	} else {
		if req.TargetDefectID == "" {
			return nil, &ValidationError{Field: "targetDefectId", Message: fmt.Sprintf("%s links require targetDefectId", req.Type)}
		}
		if req.TargetDefectID == defectID {
			return nil, &ValidationError{Field: "targetDefectId", Message: "a defect cannot link to itself"}
		}
		target, err := s.store.Get(program, req.TargetDefectID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, &NotFoundError{Kind: "defect", ID: req.TargetDefectID}
		}
		targetType, targetID = LinkTargetDefect, req.TargetDefectID
	}

	link := &DefectLinkRecord{
		ID:         uuid.New().String(),
		Program:    program,
		SourceID:   defectID,
		LinkType:   string(req.Type),
		TargetType: targetType,
		TargetID:   targetID,
		CreatedBy:  authz.Actor(ctx),
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "defects",
		ResourceID:   defectID,
		Action:       "link",
		Outcome:      audit.OutcomeSuccess,
		NewValue: audit.JSONAny{
			"type":       string(req.Type),
			"targetType": targetType,
			"targetId":   targetID,
		},
	}

	if err := s.store.CreateLink(link, event); err != nil {
		return nil, err
	}

	s.logger.Info("defect link created",
		"program", program,
		"defect", defectID,
		"type", string(req.Type),
		"target", targetID)

	l := linkRecordToLink(*link)
	return &l, nil
}

// DeleteLink removes a link owned by the given defect.
func (s *Service) DeleteLink(ctx context.Context, defectID, linkID string) error {
	program := programFrom(ctx)
	link, err := s.store.GetLink(program, linkID)
	if err != nil {
		return err
	}
	if link == nil || link.SourceID != defectID {
		return &NotFoundError{Kind: "link", ID: linkID}
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "defects",
		ResourceID:   defectID,
		Action:       "unlink",
		Outcome:      audit.OutcomeSuccess,
		OldValue: audit.JSONAny{
			"type":       link.LinkType,
			"targetType": link.TargetType,
			"targetId":   link.TargetID,
		},
	}

	_, err = s.store.DeleteLink(program, linkID, event)
	return err
}

// ListLinks returns every link the defect participates in.
func (s *Service) ListLinks(ctx context.Context, defectID string) ([]Link, error) {
	program := programFrom(ctx)
	rec, err := s.store.Get(program, defectID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "defect", ID: defectID}
	}
	records, err := s.store.ListLinks(program, defectID)
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(records))
	for _, r := range records {
		links = append(links, linkRecordToLink(r))
	}
	return links, nil
}

// decorate converts a record to its API shape with links and a fresh SLA
// reading attached.
func (s *Service) decorate(rec *DefectRecord, links []DefectLinkRecord) Defect {
	d := recordToDefect(rec)
	if len(links) > 0 {
		d.Links = make([]Link, 0, len(links))
		for _, l := range links {
			d.Links = append(d.Links, linkRecordToLink(l))
		}
	}
	d.SLA = s.slaInfo(rec)
	return d
}

// slaInfo derives the SLA reading purely from the stored clock fields and the
// current instant. Defects whose clock never started, or was stopped by
// REOPENED or DEFERRED, have no reading.
func (s *Service) slaInfo(rec *DefectRecord) *SLAInfo {
	if rec.AssignedAt == nil || rec.SLADeadline == nil {
		return nil
	}
	info := EvaluateSLA(*rec.AssignedAt, *rec.SLADeadline, time.Now().UTC())
	return &info
}

// programFrom resolves the caller's program scope, falling back to the
// default program when no tenancy middleware ran.
func programFrom(ctx context.Context) string {
	if p := tenancy.ProgramFromContext(ctx); p != "" {
		return p
	}
	return "default"
}
