package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/defect"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/execution"
	"github.com/umutsoyyilmaz/SAP-Transformation-Platform-sub009/pkg/gate/expr"
)

// ExecutionStats is the slice of the execution ledger the engine reads.
// *execution.Store satisfies it.
type ExecutionStats interface {
	LatestStatusCounts(program, runID string) (map[execution.ExecutionStatus]int64, error)
}

// DefectStats is the slice of the defect store the engine reads.
// *defect.Store satisfies it.
type DefectStats interface {
	OpenDefectCount(program string, severities []string) (int64, error)
	BlockingDefects(program, entityType, entityID string) ([]defect.DefectRecord, error)
}

// ApprovalReader supplies the sign-off roles recorded for a target.
// *Store satisfies it.
type ApprovalReader interface {
	SignoffRoles(program, entityType, entityID string) ([]string, error)
}

// CoverageReader supplies requirement coverage counts for a target.
// *Store satisfies it.
type CoverageReader interface {
	CoverageStats(program, entityType, entityID string) (covered, total int64, err error)
}

// Facts are the measured inputs a custom criterion may draw on. Values holds
// the numeric facts already computed for the target scope; OpenDefects
// queries open defect counts by severity on demand.
type Facts struct {
	Program     string
	EntityType  string
	EntityID    string
	Values      map[string]float64
	OpenDefects func(severities []string) (float64, error)
}

// CustomEvaluator scores custom-kind criteria. The engine treats it as an
// opaque strategy; the expression evaluator in gate/expr is the default.
type CustomEvaluator interface {
	Evaluate(ctx context.Context, expression string, facts Facts) (float64, error)
}

// Target identifies the entity a gate is evaluated against. Runs names the
// execution scope; when empty the entity's own identifier is used as the run.
type Target struct {
	EntityType string
	EntityID   string
	GateType   GateType
	Runs       []string
}

// Engine scores gate criteria against current aggregated state and renders
// the verdict. It holds no state of its own: every evaluation recomputes
// from the stores, so verdicts always reflect the data at evaluation time.
type Engine struct {
	executions ExecutionStats
	defects    DefectStats
	approvals  ApprovalReader
	coverage   CoverageReader
	custom     CustomEvaluator
	logger     *slog.Logger
}

// NewEngine creates an Engine reading from the given sources. The custom
// evaluator defaults to the gate/expr expression language.
func NewEngine(executions ExecutionStats, defects DefectStats, approvals ApprovalReader, coverage CoverageReader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		executions: executions,
		defects:    defects,
		approvals:  approvals,
		coverage:   coverage,
		custom:     expressionEvaluator{},
		logger:     logger,
	}
}

// SetCustomEvaluator replaces the strategy used for custom-kind criteria.
func (e *Engine) SetCustomEvaluator(evaluator CustomEvaluator) {
	e.custom = evaluator
}

// measured holds the facts gathered once per evaluation. Each source records
// its own error so that one unavailable source only fails the criteria that
// need it.
type measured struct {
	counts    map[execution.ExecutionStatus]int64
	countsErr error
	covered   int64
	covTotal  int64
	covErr    error
	roles     []string
	rolesErr  error
}

func (m *measured) executed() int64 {
	return m.counts[execution.StatusPass] + m.counts[execution.StatusFail] + m.counts[execution.StatusBlocked]
}

func (e *Engine) measure(program string, target Target) *measured {
	m := &measured{counts: map[execution.ExecutionStatus]int64{}}
	for _, run := range target.Runs {
		counts, err := e.executions.LatestStatusCounts(program, run)
		if err != nil {
			m.countsErr = err
			break
		}
		for status, n := range counts {
			m.counts[status] += n
		}
	}
	m.covered, m.covTotal, m.covErr = e.coverage.CoverageStats(program, target.EntityType, target.EntityID)
	m.roles, m.rolesErr = e.approvals.SignoffRoles(program, target.EntityType, target.EntityID)
	return m
}

// Evaluate scores every criterion against current state and renders the
// verdict. A criterion that cannot be computed fails with its error recorded;
// it never aborts the others. Open defects holding a blocks link against the
// target force BlockingFailed regardless of the numeric criteria.
func (e *Engine) Evaluate(ctx context.Context, program string, target Target, criteria []Criterion) (*GateVerdict, error) {
	if len(target.Runs) == 0 {
		target.Runs = []string{target.EntityID}
	}
	m := e.measure(program, target)

	verdict := &GateVerdict{
		EntityType:  target.EntityType,
		EntityID:    target.EntityID,
		GateType:    target.GateType,
		Criteria:    make([]CriterionResult, 0, len(criteria)),
		EvaluatedAt: time.Now().UTC(),
	}

	allPassed := true
	blockingFailed := false
	for _, crit := range criteria {
		result := CriterionResult{
			CriterionID: crit.ID,
			Name:        crit.Name,
			Kind:        crit.Kind,
			Operator:    crit.Operator,
			Threshold:   crit.Threshold,
			IsBlocking:  crit.IsBlocking,
		}
		actual, err := e.score(ctx, program, target, crit, m)
		if err != nil {
			result.Error = err.Error()
			e.logger.Warn("criterion could not be scored",
				"criterion", crit.ID,
				"name", crit.Name,
				"kind", crit.Kind,
				"error", err)
		} else {
			result.ActualValue = actual
			passed, err := crit.Operator.Compare(actual, crit.Threshold)
			if err != nil {
				result.Error = err.Error()
			} else {
				result.Passed = passed
			}
		}
		if !result.Passed {
			allPassed = false
			if crit.IsBlocking {
				blockingFailed = true
			}
		}
		verdict.Criteria = append(verdict.Criteria, result)
	}

	blockers, err := e.defects.BlockingDefects(program, target.EntityType, target.EntityID)
	if err != nil {
		return nil, fmt.Errorf("list blocking defects: %w", err)
	}
	for _, d := range blockers {
		verdict.BlockingDefects = append(verdict.BlockingDefects, BlockingDefect{
			DefectID: d.ID,
			Title:    d.Title,
			Severity: d.Severity,
			Status:   d.Status,
		})
		verdict.BlockingDefectIDs = append(verdict.BlockingDefectIDs, d.ID)
	}
	if len(blockers) > 0 {
		blockingFailed = true
	}

	verdict.AllPassed = allPassed
	verdict.BlockingFailed = blockingFailed
	verdict.CanProceed = !blockingFailed
	return verdict, nil
}

func (e *Engine) score(ctx context.Context, program string, target Target, crit Criterion, m *measured) (float64, error) {
	switch crit.Kind {
	case KindPassRate:
		if m.countsErr != nil {
			return 0, &EvaluationError{Message: fmt.Sprintf("aggregate executions: %v", m.countsErr)}
		}
		executed := m.executed()
		if executed == 0 {
			return 0, &EvaluationError{Message: "no executed test cases in scope"}
		}
		return float64(m.counts[execution.StatusPass]) / float64(executed) * 100, nil

	case KindExecutionComplete:
		if m.countsErr != nil {
			return 0, &EvaluationError{Message: fmt.Sprintf("aggregate executions: %v", m.countsErr)}
		}
		total := m.executed() + m.counts[execution.StatusNotRun]
		if total == 0 {
			return 0, &EvaluationError{Message: "no executions recorded in scope"}
		}
		return float64(m.executed()) / float64(total) * 100, nil

	case KindDefectCount:
		count, err := e.defects.OpenDefectCount(program, crit.SeverityFilter)
		if err != nil {
			return 0, &EvaluationError{Message: fmt.Sprintf("count open defects: %v", err)}
		}
		return float64(count), nil

	case KindCoverage:
		if m.covErr != nil {
			return 0, &EvaluationError{Message: fmt.Sprintf("read coverage marks: %v", m.covErr)}
		}
		if m.covTotal == 0 {
			return 0, &EvaluationError{Message: "no requirements marked in scope"}
		}
		return float64(m.covered) / float64(m.covTotal) * 100, nil

	case KindApprovalComplete:
		if m.rolesErr != nil {
			return 0, &EvaluationError{Message: fmt.Sprintf("read signoffs: %v", m.rolesErr)}
		}
		present := mapset.NewSet(m.roles...)
		if len(crit.RequiredRoles) == 0 {
			if present.Cardinality() > 0 {
				return 1, nil
			}
			return 0, nil
		}
		if mapset.NewSet(crit.RequiredRoles...).IsSubset(present) {
			return 1, nil
		}
		return 0, nil

	case KindCustom:
		if crit.Expression == "" {
			return 0, &EvaluationError{Message: "custom criterion has no expression"}
		}
		if e.custom == nil {
			return 0, &EvaluationError{Message: "no custom evaluator is configured"}
		}
		actual, err := e.custom.Evaluate(ctx, crit.Expression, e.customFacts(program, target, m))
		if err != nil {
			var evalErr *EvaluationError
			if errors.As(err, &evalErr) {
				return 0, evalErr
			}
			return 0, &EvaluationError{Message: err.Error()}
		}
		return actual, nil
	}
	return 0, &EvaluationError{Message: "unknown criterion kind " + string(crit.Kind)}
}

// customFacts exposes the measured values to custom expressions. Facts whose
// source failed or whose denominator is zero are omitted; referencing one
// then fails that criterion with an unknown-identifier error.
func (e *Engine) customFacts(program string, target Target, m *measured) Facts {
	values := map[string]float64{}
	if m.countsErr == nil {
		executed := m.executed()
		values["passed"] = float64(m.counts[execution.StatusPass])
		values["failed"] = float64(m.counts[execution.StatusFail])
		values["blocked"] = float64(m.counts[execution.StatusBlocked])
		values["not_run"] = float64(m.counts[execution.StatusNotRun])
		values["executed"] = float64(executed)
		values["executions"] = float64(executed + m.counts[execution.StatusNotRun])
		if executed > 0 {
			values["pass_rate"] = float64(m.counts[execution.StatusPass]) / float64(executed) * 100
		}
		if total := executed + m.counts[execution.StatusNotRun]; total > 0 {
			values["execution_complete"] = float64(executed) / float64(total) * 100
		}
	}
	if m.covErr == nil && m.covTotal > 0 {
		values["coverage"] = float64(m.covered) / float64(m.covTotal) * 100
	}
	if m.rolesErr == nil {
		values["signoffs"] = float64(len(m.roles))
	}
	return Facts{
		Program:    program,
		EntityType: target.EntityType,
		EntityID:   target.EntityID,
		Values:     values,
		OpenDefects: func(severities []string) (float64, error) {
			count, err := e.defects.OpenDefectCount(program, severities)
			return float64(count), err
		},
	}
}

// expressionEvaluator scores custom criteria with the gate/expr language.
type expressionEvaluator struct{}

func (expressionEvaluator) Evaluate(_ context.Context, expression string, facts Facts) (float64, error) {
	prog, err := expr.Compile(expression)
	if err != nil {
		return 0, &EvaluationError{Message: err.Error()}
	}
	return prog.Evaluate(factsEnv{facts})
}

// factsEnv adapts Facts to the expression language's environment.
type factsEnv struct {
	facts Facts
}

func (f factsEnv) Value(name string) (float64, bool) {
	v, ok := f.facts.Values[name]
	return v, ok
}

func (f factsEnv) Call(name string, args []string) (float64, error) {
	if name == "open_defects" {
		if f.facts.OpenDefects == nil {
			return 0, fmt.Errorf("open_defects is not available")
		}
		return f.facts.OpenDefects(args)
	}
	return 0, fmt.Errorf("unknown function %q", name)
}
