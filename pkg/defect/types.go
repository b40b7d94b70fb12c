// Package defect implements the defect lifecycle: a nine-state machine with
// a single transition gate, SLA deadlines derived from severity and priority,
// typed links between defects, and optimistic concurrency on every write.
package defect

import "time"

// DefectStatus is a defect lifecycle state. Status never changes except
// through the transition table; there is no direct status assignment.
type DefectStatus string

const (
	StatusNew        DefectStatus = "NEW"
	StatusAssigned   DefectStatus = "ASSIGNED"
	StatusInProgress DefectStatus = "IN_PROGRESS"
	StatusResolved   DefectStatus = "RESOLVED"
	StatusRetest     DefectStatus = "RETEST"
	StatusClosed     DefectStatus = "CLOSED"
	StatusReopened   DefectStatus = "REOPENED"
	StatusRejected   DefectStatus = "REJECTED"
	StatusDeferred   DefectStatus = "DEFERRED"
)

// AllStatuses lists every defect state, in lifecycle order.
var AllStatuses = []DefectStatus{
	StatusNew, StatusAssigned, StatusInProgress, StatusResolved,
	StatusRetest, StatusClosed, StatusReopened, StatusRejected,
	StatusDeferred,
}

// ValidDefectStatus reports whether s is one of the nine lifecycle states.
func ValidDefectStatus(s DefectStatus) bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outbound transitions.
func Terminal(s DefectStatus) bool {
	return s == StatusClosed || s == StatusRejected
}

// Open reports whether a defect in state s counts as open for gate
// defect-count criteria. Deferred defects are parked, not open.
func Open(s DefectStatus) bool {
	switch s {
	case StatusClosed, StatusRejected, StatusDeferred:
		return false
	}
	return true
}

// Severity classifies defect impact, S1 (highest) to S4 (lowest).
type Severity string

const (
	SeverityS1 Severity = "S1"
	SeverityS2 Severity = "S2"
	SeverityS3 Severity = "S3"
	SeverityS4 Severity = "S4"
)

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityS1, SeverityS2, SeverityS3, SeverityS4:
		return true
	}
	return false
}

// Priority classifies defect urgency, P1 (highest) to P4 (lowest).
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityP1, PriorityP2, PriorityP3, PriorityP4:
		return true
	}
	return false
}

// ResolutionType records how a resolved defect was addressed.
type ResolutionType string

const (
	ResolutionFixed           ResolutionType = "fixed"
	ResolutionWorkaround      ResolutionType = "workaround"
	ResolutionCannotReproduce ResolutionType = "cannot_reproduce"
	ResolutionNotADefect      ResolutionType = "not_a_defect"
	ResolutionDuplicate       ResolutionType = "duplicate"
)

// ValidResolutionType reports whether r is a known resolution type.
func ValidResolutionType(r ResolutionType) bool {
	switch r {
	case ResolutionFixed, ResolutionWorkaround, ResolutionCannotReproduce,
		ResolutionNotADefect, ResolutionDuplicate:
		return true
	}
	return false
}

// LinkType classifies a defect link. duplicate_of and caused_by point at
// another defect and are cycle-checked; related_to points at another defect
// without cycle checking; blocks points at a gate target entity and is
// honored by gate evaluation.
type LinkType string

const (
	LinkDuplicateOf LinkType = "duplicate_of"
	LinkRelatedTo   LinkType = "related_to"
	LinkCausedBy    LinkType = "caused_by"
	LinkBlocks      LinkType = "blocks"
)

// ValidLinkType reports whether t is a known link type.
func ValidLinkType(t LinkType) bool {
	switch t {
	case LinkDuplicateOf, LinkRelatedTo, LinkCausedBy, LinkBlocks:
		return true
	}
	return false
}

// LinkTargetDefect is the target type for defect-to-defect links.
const LinkTargetDefect = "defect"

// Defect is the API representation of a defect.
type Defect struct {
	ID                string         `json:"id"`
	Program           string         `json:"program,omitempty"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Severity          Severity       `json:"severity"`
	Priority          Priority       `json:"priority"`
	Status            DefectStatus   `json:"status"`
	Component         string         `json:"component,omitempty"`
	Environment       string         `json:"environment,omitempty"`
	RaisedBy          string         `json:"raisedBy,omitempty"`
	AssignedTo        string         `json:"assignedTo,omitempty"`
	AssignedAt        *time.Time     `json:"assignedAt,omitempty"`
	SLADeadline       *time.Time     `json:"slaDeadline,omitempty"`
	SLA               *SLAInfo       `json:"sla,omitempty"`
	OriginExecutionID string         `json:"originExecutionId,omitempty"`
	TestCaseID        string         `json:"testCaseId,omitempty"`
	RunID             string         `json:"runId,omitempty"`
	ResolutionType    ResolutionType `json:"resolutionType,omitempty"`
	RootCause         string         `json:"rootCause,omitempty"`
	Links             []Link         `json:"links,omitempty"`
	Version           int            `json:"version"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Link is the API representation of a typed defect link.
type Link struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"sourceId"`
	Type       LinkType  `json:"type"`
	TargetType string    `json:"targetType"`
	TargetID   string    `json:"targetId"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateDefectRequest is the request body for raising a defect, either
// manually or from a failed execution step.
type CreateDefectRequest struct {
	Title             string   `json:"title"`
	Description       string   `json:"description,omitempty"`
	Severity          Severity `json:"severity"`
	Priority          Priority `json:"priority"`
	Component         string   `json:"component,omitempty"`
	Environment       string   `json:"environment,omitempty"`
	RaisedBy          string   `json:"raisedBy,omitempty"`
	OriginExecutionID string   `json:"originExecutionId,omitempty"`
	TestCaseID        string   `json:"testCaseId,omitempty"`
	RunID             string   `json:"runId,omitempty"`
}

// UpdateDefectRequest re-triages a defect. Only the listed fields can change;
// status is owned by the transition endpoint. Version must match the version
// the caller read.
type UpdateDefectRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Severity    *Severity `json:"severity,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Component   *string   `json:"component,omitempty"`
	RootCause   *string   `json:"rootCause,omitempty"`
	Version     int       `json:"version"`
}

// TransitionRequest is the request body for moving a defect to a new state.
// The state-specific fields are required per the transition table: assignee
// when entering ASSIGNED, resolutionType for RESOLVED, a retest execution
// reference for CLOSED/REOPENED, a reason for REJECTED/DEFERRED.
type TransitionRequest struct {
	TargetStatus      DefectStatus   `json:"targetStatus"`
	AssignedTo        string         `json:"assignedTo,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	ResolutionType    ResolutionType `json:"resolutionType,omitempty"`
	RootCause         string         `json:"rootCause,omitempty"`
	RetestExecutionID string         `json:"retestExecutionId,omitempty"`
	// Version is the defect version the caller read. Zero means "whatever is
	// current", which still serializes against concurrent writers inside the
	// store but skips the read-your-writes check.
	Version int `json:"version,omitempty"`
}

// LinkRequest is the request body for creating a defect link. Defect-to-defect
// types take targetDefectId; blocks takes entityType and entityId naming the
// gate target the defect holds up.
type LinkRequest struct {
	Type           LinkType `json:"type"`
	TargetDefectID string   `json:"targetDefectId,omitempty"`
	EntityType     string   `json:"entityType,omitempty"`
	EntityID       string   `json:"entityId,omitempty"`
}

// Transition is one entry in a defect's transition history.
type Transition struct {
	ID                string         `json:"id"`
	DefectID          string         `json:"defectId"`
	Action            string         `json:"action"`
	FromStatus        DefectStatus   `json:"fromStatus"`
	ToStatus          DefectStatus   `json:"toStatus"`
	Actor             string         `json:"actor,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	ResolutionType    ResolutionType `json:"resolutionType,omitempty"`
	RetestExecutionID string         `json:"retestExecutionId,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// DefectList is a paginated page of defects.
type DefectList struct {
	Items         []Defect `json:"items"`
	TotalSize     int64    `json:"totalSize"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}
