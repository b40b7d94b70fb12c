package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/audit"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/authz"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/gate/expr"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/tenancy"
)

// Service implements gate configuration and evaluation: criteria CRUD, the
// evaluation run with its append-only history, sign-offs, and coverage marks.
type Service struct {
	store     *Store
	engine    *Engine
	listeners []VerdictListener
	logger    *slog.Logger
}

// NewService creates the gate service. Execution and defect state are read
// through the given stats sources; sign-offs and coverage marks come from
// the service's own store.
func NewService(store *Store, executions ExecutionStats, defects DefectStats, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		engine: NewEngine(executions, defects, store, store, logger),
		logger: logger,
	}
}

// Engine returns the evaluation engine, e.g. to swap the custom evaluator.
func (s *Service) Engine() *Engine {
	return s.engine
}

// OnVerdict registers a listener invoked after every persisted evaluation.
func (s *Service) OnVerdict(listener VerdictListener) {
	s.listeners = append(s.listeners, listener)
}

// CreateCriterion configures a new gate criterion.
func (s *Service) CreateCriterion(ctx context.Context, req CreateCriterionRequest) (*Criterion, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, &ValidationError{Field: "name", Message: "name is required"}
	}
	gateType := req.GateType
	if gateType == "" {
		gateType = GateRelease
	}
	if !ValidGateType(gateType) {
		return nil, &ValidationError{Field: "gateType", Message: fmt.Sprintf("unknown gate type %q", gateType)}
	}
	if !ValidCriterionKind(req.Kind) {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown criterion kind %q", req.Kind)}
	}
	operator := req.Operator
	if operator == "" {
		operator = OpGTE
	}
	if !ValidOperator(operator) {
		return nil, &ValidationError{Field: "operator", Message: fmt.Sprintf("unknown operator %q", operator)}
	}
	for _, sev := range req.SeverityFilter {
		if !defect.ValidSeverity(defect.Severity(sev)) {
			return nil, &ValidationError{Field: "severityFilter", Message: fmt.Sprintf("unknown severity %q", sev)}
		}
	}
	if req.Kind == KindCustom {
		if strings.TrimSpace(req.Expression) == "" {
			return nil, &ValidationError{Field: "expression", Message: "custom criteria require an expression"}
		}
		if _, err := expr.Compile(req.Expression); err != nil {
			return nil, &ValidationError{Field: "expression", Message: err.Error()}
		}
	} else if req.Expression != "" {
		return nil, &ValidationError{Field: "expression", Message: "only custom criteria take an expression"}
	}

	program := programFrom(ctx)
	rec := &CriterionRecord{
		ID:             uuid.New().String(),
		Program:        program,
		GateType:       string(gateType),
		Name:           req.Name,
		Description:    req.Description,
		Kind:           string(req.Kind),
		Operator:       string(operator),
		Threshold:      req.Threshold,
		SeverityFilter: req.SeverityFilter,
		RequiredRoles:  req.RequiredRoles,
		Expression:     req.Expression,
		IsBlocking:     req.IsBlocking,
		Active:         true,
		CreatedBy:      authz.Actor(ctx),
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "gate_criteria",
		ResourceID:   rec.ID,
		Action:       "create",
		Outcome:      audit.OutcomeSuccess,
		NewValue: audit.JSONAny{
			"name":       req.Name,
			"gateType":   string(gateType),
			"kind":       string(req.Kind),
			"operator":   string(operator),
			"threshold":  req.Threshold,
			"isBlocking": req.IsBlocking,
		},
	}

	if err := s.store.CreateCriterion(rec, event); err != nil {
		return nil, err
	}

	s.logger.Info("gate criterion created",
		"program", program,
		"criterion", rec.ID,
		"gateType", rec.GateType,
		"kind", rec.Kind,
		"blocking", rec.IsBlocking)

	c := recordToCriterion(rec)
	return &c, nil
}

// GetCriterion returns one criterion.
func (s *Service) GetCriterion(ctx context.Context, id string) (*Criterion, error) {
	rec, err := s.store.GetCriterion(programFrom(ctx), id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "criterion", ID: id}
	}
	c := recordToCriterion(rec)
	return &c, nil
}

// ListCriteria returns the program's criteria, optionally narrowed by gate
// type, kind, or active state.
func (s *Service) ListCriteria(ctx context.Context, filter CriterionFilter) ([]Criterion, error) {
	records, err := s.store.ListCriteria(programFrom(ctx), filter)
	if err != nil {
		return nil, err
	}
	criteria := make([]Criterion, 0, len(records))
	for i := range records {
		criteria = append(criteria, recordToCriterion(&records[i]))
	}
	return criteria, nil
}

// UpdateCriterion applies a partial update. The criterion's kind is fixed at
// creation; thresholds, operators, filters, and the active flag may change.
func (s *Service) UpdateCriterion(ctx context.Context, id string, req UpdateCriterionRequest) (*Criterion, error) {
	program := programFrom(ctx)
	rec, err := s.store.GetCriterion(program, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "criterion", ID: id}
	}

	updates := map[string]any{}
	oldValue := audit.JSONAny{}
	newValue := audit.JSONAny{}
	set := func(column string, old, new any) {
		updates[column] = new
		oldValue[column] = old
		newValue[column] = new
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, &ValidationError{Field: "name", Message: "name cannot be cleared"}
		}
		set("name", rec.Name, *req.Name)
	}
	if req.Description != nil {
		set("description", rec.Description, *req.Description)
	}
	if req.Operator != nil {
		if !ValidOperator(*req.Operator) {
			return nil, &ValidationError{Field: "operator", Message: fmt.Sprintf("unknown operator %q", *req.Operator)}
		}
		set("operator", rec.Operator, string(*req.Operator))
	}
	if req.Threshold != nil {
		set("threshold", rec.Threshold, *req.Threshold)
	}
	if req.SeverityFilter != nil {
		for _, sev := range *req.SeverityFilter {
			if !defect.ValidSeverity(defect.Severity(sev)) {
				return nil, &ValidationError{Field: "severityFilter", Message: fmt.Sprintf("unknown severity %q", sev)}
			}
		}
		updates["severity_filter"] = audit.JSONStringSlice(*req.SeverityFilter)
		oldValue["severityFilter"] = []string(rec.SeverityFilter)
		newValue["severityFilter"] = *req.SeverityFilter
	}
	if req.RequiredRoles != nil {
		updates["required_roles"] = audit.JSONStringSlice(*req.RequiredRoles)
		oldValue["requiredRoles"] = []string(rec.RequiredRoles)
		newValue["requiredRoles"] = *req.RequiredRoles
	}
	if req.Expression != nil {
		if rec.Kind != string(KindCustom) {
			return nil, &ValidationError{Field: "expression", Message: "only custom criteria take an expression"}
		}
		if strings.TrimSpace(*req.Expression) == "" {
			return nil, &ValidationError{Field: "expression", Message: "custom criteria require an expression"}
		}
		if _, err := expr.Compile(*req.Expression); err != nil {
			return nil, &ValidationError{Field: "expression", Message: err.Error()}
		}
		set("expression", rec.Expression, *req.Expression)
	}
	if req.IsBlocking != nil {
		set("is_blocking", rec.IsBlocking, *req.IsBlocking)
	}
	if req.Active != nil {
		set("active", rec.Active, *req.Active)
	}
	if len(updates) == 0 {
		return nil, &ValidationError{Field: "body", Message: "no fields to update"}
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "gate_criteria",
		ResourceID:   id,
		Action:       "update",
		Outcome:      audit.OutcomeSuccess,
		OldValue:     oldValue,
		NewValue:     newValue,
	}

	found, err := s.store.UpdateCriterion(program, id, updates, event)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &NotFoundError{Kind: "criterion", ID: id}
	}
	return s.GetCriterion(ctx, id)
}

// DeleteCriterion removes a criterion. Evaluation rows that referenced it
// are history and stay in place.
func (s *Service) DeleteCriterion(ctx context.Context, id string) error {
	program := programFrom(ctx)
	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "gate_criteria",
		ResourceID:   id,
		Action:       "delete",
		Outcome:      audit.OutcomeSuccess,
	}
	found, err := s.store.DeleteCriterion(program, id, event)
	if err != nil {
		return err
	}
	if !found {
		return &NotFoundError{Kind: "criterion", ID: id}
	}
	return nil
}

// Evaluate runs the gate for a target: every active criterion of the gate
// type is scored fresh, one history row per criterion is appended, and the
// verdict is returned. Nothing is read from prior verdicts.
func (s *Service) Evaluate(ctx context.Context, entityType, entityID string, req EvaluateRequest) (*GateVerdict, error) {
	if !ValidTargetType(entityType) {
		return nil, &ValidationError{Field: "entityType", Message: fmt.Sprintf("unknown target type %q", entityType)}
	}
	if entityID == "" {
		return nil, &ValidationError{Field: "entityId", Message: "is required"}
	}
	gateType := req.GateType
	if gateType == "" {
		gateType = DefaultGateType(entityType)
	}
	if !ValidGateType(gateType) {
		return nil, &ValidationError{Field: "gateType", Message: fmt.Sprintf("unknown gate type %q", gateType)}
	}

	program := programFrom(ctx)
	records, err := s.store.ListCriteria(program, CriterionFilter{GateType: string(gateType), ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	criteria := make([]Criterion, 0, len(records))
	for i := range records {
		criteria = append(criteria, recordToCriterion(&records[i]))
	}

	previous, err := s.store.LatestVerdict(program, entityType, entityID)
	if err != nil {
		return nil, err
	}

	target := Target{EntityType: entityType, EntityID: entityID, GateType: gateType, Runs: req.Runs}
	verdict, err := s.engine.Evaluate(ctx, program, target, criteria)
	if err != nil {
		return nil, err
	}
	verdict.EvaluationGroup = uuid.New().String()
	verdict.EvaluatedBy = authz.Actor(ctx)

	verdictRec := &VerdictRecord{
		ID:                verdict.EvaluationGroup,
		Program:           program,
		EntityType:        entityType,
		EntityID:          entityID,
		GateType:          string(gateType),
		AllPassed:         verdict.AllPassed,
		BlockingFailed:    verdict.BlockingFailed,
		CanProceed:        verdict.CanProceed,
		BlockingDefectIDs: verdict.BlockingDefectIDs,
		EvaluatedBy:       verdict.EvaluatedBy,
	}
	rows := make([]EvaluationRecord, 0, len(verdict.Criteria))
	for i, result := range verdict.Criteria {
		rows = append(rows, EvaluationRecord{
			ID:            uuid.New().String(),
			Program:       program,
			EntityType:    entityType,
			EntityID:      entityID,
			GateType:      string(gateType),
			GroupID:       verdict.EvaluationGroup,
			Position:      i,
			CriterionID:   result.CriterionID,
			CriterionName: result.Name,
			Kind:          string(result.Kind),
			Operator:      string(result.Operator),
			Threshold:     result.Threshold,
			ActualValue:   result.ActualValue,
			Passed:        result.Passed,
			IsBlocking:    result.IsBlocking,
			EvalError:     result.Error,
		})
	}

	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeEvaluation,
		Actor:        verdict.EvaluatedBy,
		ResourceType: "gates",
		ResourceID:   entityID,
		Action:       "evaluate",
		Outcome:      audit.OutcomeSuccess,
		NewValue: audit.JSONAny{
			"gateType":        string(gateType),
			"evaluationGroup": verdict.EvaluationGroup,
			"allPassed":       verdict.AllPassed,
			"blockingFailed":  verdict.BlockingFailed,
			"canProceed":      verdict.CanProceed,
			"criteria":        len(verdict.Criteria),
		},
	}

	if err := s.store.AppendEvaluation(verdictRec, rows, event); err != nil {
		return nil, err
	}
	verdict.EvaluatedAt = verdictRec.CreatedAt

	s.logger.Info("gate evaluated",
		"program", program,
		"entityType", entityType,
		"entityId", entityID,
		"gateType", gateType,
		"canProceed", verdict.CanProceed,
		"allPassed", verdict.AllPassed,
		"criteria", len(verdict.Criteria),
		"blockingDefects", len(verdict.BlockingDefectIDs))

	s.notifyVerdict(ctx, program, verdict, previous)
	return verdict, nil
}

func (s *Service) notifyVerdict(ctx context.Context, program string, verdict *GateVerdict, previous *VerdictRecord) {
	event := VerdictEvent{
		Program:         program,
		EntityType:      verdict.EntityType,
		EntityID:        verdict.EntityID,
		GateType:        verdict.GateType,
		EvaluationGroup: verdict.EvaluationGroup,
		CanProceed:      verdict.CanProceed,
		Changed:         previous == nil || previous.CanProceed != verdict.CanProceed,
		EvaluatedBy:     verdict.EvaluatedBy,
	}
	for _, listener := range s.listeners {
		listener.GateEvaluated(ctx, event)
	}
}

// History returns prior evaluation rows for a target, newest first.
func (s *Service) History(ctx context.Context, entityType, entityID string, pageSize int, pageToken string) (*EvaluationHistory, error) {
	if !ValidTargetType(entityType) {
		return nil, &ValidationError{Field: "entityType", Message: fmt.Sprintf("unknown target type %q", entityType)}
	}
	records, nextToken, totalSize, err := s.store.ListEvaluations(programFrom(ctx), entityType, entityID, pageSize, pageToken)
	if err != nil {
		return nil, err
	}
	items := make([]Evaluation, 0, len(records))
	for _, rec := range records {
		items = append(items, recordToEvaluation(rec))
	}
	return &EvaluationHistory{Items: items, TotalSize: totalSize, NextPageToken: nextToken}, nil
}

// LatestVerdict reconstructs the most recent persisted verdict for a target.
// It is a history read: the stored outcome is returned unmodified, with
// blocking defects reduced to their IDs.
func (s *Service) LatestVerdict(ctx context.Context, entityType, entityID string) (*GateVerdict, error) {
	if !ValidTargetType(entityType) {
		return nil, &ValidationError{Field: "entityType", Message: fmt.Sprintf("unknown target type %q", entityType)}
	}
	program := programFrom(ctx)
	rec, err := s.store.LatestVerdict(program, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Kind: "verdict", ID: entityType + "/" + entityID}
	}
	rows, err := s.store.GroupEvaluations(program, rec.ID)
	if err != nil {
		return nil, err
	}

	verdict := &GateVerdict{
		EntityType:        rec.EntityType,
		EntityID:          rec.EntityID,
		GateType:          GateType(rec.GateType),
		EvaluationGroup:   rec.ID,
		AllPassed:         rec.AllPassed,
		BlockingFailed:    rec.BlockingFailed,
		CanProceed:        rec.CanProceed,
		Criteria:          make([]CriterionResult, 0, len(rows)),
		BlockingDefectIDs: rec.BlockingDefectIDs,
		EvaluatedBy:       rec.EvaluatedBy,
		EvaluatedAt:       rec.CreatedAt,
	}
	for _, row := range rows {
		verdict.Criteria = append(verdict.Criteria, CriterionResult{
			CriterionID: row.CriterionID,
			Name:        row.CriterionName,
			Kind:        CriterionKind(row.Kind),
			Operator:    Operator(row.Operator),
			Threshold:   row.Threshold,
			ActualValue: row.ActualValue,
			Passed:      row.Passed,
			IsBlocking:  row.IsBlocking,
			Error:       row.EvalError,
		})
	}
	return verdict, nil
}

// CreateSignoff records an approval for a target.
func (s *Service) CreateSignoff(ctx context.Context, entityType, entityID string, req CreateSignoffRequest) (*Signoff, error) {
	if !ValidTargetType(entityType) {
		return nil, &ValidationError{Field: "entityType", Message: fmt.Sprintf("unknown target type %q", entityType)}
	}
	if entityID == "" {
		return nil, &ValidationError{Field: "entityId", Message: "is required"}
	}
	if strings.TrimSpace(req.Role) == "" {
		return nil, &ValidationError{Field: "role", Message: "role is required"}
	}
	signedBy := authz.Actor(ctx)
	if signedBy == "" {
		return nil, &ValidationError{Field: "signedBy", Message: "an authenticated actor is required to sign off"}
	}

	program := programFrom(ctx)
	rec := &SignoffRecord{
		ID:         uuid.New().String(),
		Program:    program,
		EntityType: entityType,
		EntityID:   entityID,
		Role:       req.Role,
		SignedBy:   signedBy,
		Comment:    req.Comment,
	}
	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        signedBy,
		ResourceType: "gate_signoffs",
		ResourceID:   rec.ID,
		Action:       "signoff",
		Outcome:      audit.OutcomeSuccess,
		NewValue: audit.JSONAny{
			"entityType": entityType,
			"entityId":   entityID,
			"role":       req.Role,
		},
	}
	if err := s.store.CreateSignoff(rec, event); err != nil {
		return nil, err
	}

	s.logger.Info("signoff recorded",
		"program", program,
		"entityType", entityType,
		"entityId", entityID,
		"role", req.Role,
		"signedBy", signedBy)

	signoff := signoffRecordToSignoff(*rec)
	return &signoff, nil
}

// ListSignoffs returns the approvals recorded for a target.
func (s *Service) ListSignoffs(ctx context.Context, entityType, entityID string) ([]Signoff, error) {
	records, err := s.store.ListSignoffs(programFrom(ctx), entityType, entityID)
	if err != nil {
		return nil, err
	}
	signoffs := make([]Signoff, 0, len(records))
	for _, rec := range records {
		signoffs = append(signoffs, signoffRecordToSignoff(rec))
	}
	return signoffs, nil
}

// CreateCoverageMark declares a requirement in scope for a target and,
// when an execution is named, marks it covered.
func (s *Service) CreateCoverageMark(ctx context.Context, entityType, entityID string, req CreateCoverageMarkRequest) (*CoverageMark, error) {
	if !ValidTargetType(entityType) {
		return nil, &ValidationError{Field: "entityType", Message: fmt.Sprintf("unknown target type %q", entityType)}
	}
	if entityID == "" {
		return nil, &ValidationError{Field: "entityId", Message: "is required"}
	}
	if strings.TrimSpace(req.RequirementID) == "" {
		return nil, &ValidationError{Field: "requirementId", Message: "requirementId is required"}
	}

	program := programFrom(ctx)
	rec := &CoverageMarkRecord{
		ID:            uuid.New().String(),
		Program:       program,
		EntityType:    entityType,
		EntityID:      entityID,
		RequirementID: req.RequirementID,
		ExecutionID:   req.ExecutionID,
		MarkedBy:      authz.Actor(ctx),
	}
	event := &audit.Event{
		ID:           uuid.New().String(),
		Program:      program,
		EventType:    audit.EventTypeManagement,
		Actor:        authz.Actor(ctx),
		ResourceType: "gate_coverage_marks",
		ResourceID:   rec.ID,
		Action:       "mark_coverage",
		Outcome:      audit.OutcomeSuccess,
		NewValue: audit.JSONAny{
			"entityType":    entityType,
			"entityId":      entityID,
			"requirementId": req.RequirementID,
			"executionId":   req.ExecutionID,
		},
	}
	if err := s.store.CreateCoverageMark(rec, event); err != nil {
		return nil, err
	}
	mark := markRecordToMark(*rec)
	return &mark, nil
}

// ListCoverageMarks returns the coverage marks recorded for a target.
func (s *Service) ListCoverageMarks(ctx context.Context, entityType, entityID string) ([]CoverageMark, error) {
	records, err := s.store.ListCoverageMarks(programFrom(ctx), entityType, entityID)
	if err != nil {
		return nil, err
	}
	marks := make([]CoverageMark, 0, len(records))
	for _, rec := range records {
		marks = append(marks, markRecordToMark(rec))
	}
	return marks, nil
}

func programFrom(ctx context.Context) string {
	if p := tenancy.ProgramFromContext(ctx); p != "" {
		return p
	}
	return "default"
}
