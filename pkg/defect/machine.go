package defect

import (
	"fmt"
	"strings"
)

// Transition action names, used in history and audit records.
const (
	ActionAssign       = "assign"
	ActionStartWork    = "start_work"
	ActionResolve      = "resolve"
	ActionSendToRetest = "send_to_retest"
	ActionRetestPass   = "retest_pass"
	ActionRetestFail   = "retest_fail"
	ActionReject       = "reject"
	ActionDefer        = "defer"
	ActionReactivate   = "reactivate"
)

// TransitionRule defines one allowed lifecycle transition and the fields the
// request must carry for it.
type TransitionRule struct {
	Action               string
	From                 DefectStatus
	To                   DefectStatus
	RequiresReason       bool
	RequiresResolution   bool
	RequiresExecutionRef bool
}

// DefaultTransitions defines the allowed defect state transitions. Every
// (from, to) pair not listed here is illegal.
var DefaultTransitions = []TransitionRule{
	{Action: ActionAssign, From: StatusNew, To: StatusAssigned},
	{Action: ActionStartWork, From: StatusAssigned, To: StatusInProgress},
	{Action: ActionResolve, From: StatusInProgress, To: StatusResolved, RequiresResolution: true},
	{Action: ActionSendToRetest, From: StatusResolved, To: StatusRetest},
	{Action: ActionRetestPass, From: StatusRetest, To: StatusClosed, RequiresExecutionRef: true},
	{Action: ActionRetestFail, From: StatusRetest, To: StatusReopened, RequiresExecutionRef: true},
	{Action: ActionAssign, From: StatusReopened, To: StatusAssigned},
	{Action: ActionReject, From: StatusNew, To: StatusRejected, RequiresReason: true},
	{Action: ActionDefer, From: StatusNew, To: StatusDeferred, RequiresReason: true},
	{Action: ActionDefer, From: StatusAssigned, To: StatusDeferred, RequiresReason: true},
	{Action: ActionDefer, From: StatusInProgress, To: StatusDeferred, RequiresReason: true},
	{Action: ActionReactivate, From: StatusDeferred, To: StatusAssigned},
}

// Machine validates defect state transitions against the transition table.
type Machine struct {
	transitions []TransitionRule
}

// NewMachine creates a machine with the default transition table.
func NewMachine() *Machine {
	return &Machine{transitions: DefaultTransitions}
}

// Resolve returns the rule for a from->to transition, or a TransitionError
// when the pair is not in the table. A same-state request is rejected: every
// legal transition changes state, and a silent no-op would only blur the
// history.
func (m *Machine) Resolve(from, to DefectStatus) (*TransitionRule, error) {
	if !ValidDefectStatus(to) {
		return nil, &TransitionError{
			Code:    "DEFECT_UNKNOWN_STATE",
			From:    from,
			To:      to,
			Message: fmt.Sprintf("unknown target state %q", to),
		}
	}
	if from == to {
		return nil, &TransitionError{
			Code:    "DEFECT_SAME_STATE",
			From:    from,
			To:      to,
			Message: fmt.Sprintf("defect is already %s", from),
		}
	}
	for i := range m.transitions {
		if m.transitions[i].From == from && m.transitions[i].To == to {
			return &m.transitions[i], nil
		}
	}

	allowed := m.AllowedTransitions(from)
	if len(allowed) == 0 {
		return nil, &TransitionError{
			Code:    "DEFECT_TERMINAL_STATE",
			From:    from,
			To:      to,
			Message: fmt.Sprintf("%s is terminal; no outbound transitions", from),
		}
	}
	targets := make([]string, len(allowed))
	for i, s := range allowed {
		targets[i] = string(s)
	}
	return nil, &TransitionError{
		Code: "DEFECT_INVALID_TRANSITION",
		From: from,
		To:   to,
		Message: fmt.Sprintf("%s -> %s is not a legal transition; allowed from %s: %s",
			from, to, from, strings.Join(targets, ", ")),
	}
}

// ValidateTransition checks whether a from->to transition is allowed.
// Returns nil if allowed, a TransitionError if not.
func (m *Machine) ValidateTransition(from, to DefectStatus) error {
	_, err := m.Resolve(from, to)
	return err
}

// AllowedTransitions returns all valid target states from the given state.
func (m *Machine) AllowedTransitions(from DefectStatus) []DefectStatus {
	var allowed []DefectStatus
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// TransitionError is a structured error for invalid transitions.
type TransitionError struct {
	Code    string       `json:"code"`
	From    DefectStatus `json:"from"`
	To      DefectStatus `json:"to"`
	Message string       `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
