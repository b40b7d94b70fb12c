package defect

import "time"

// DefectRecord is the GORM model for a defect. Version implements optimistic
// concurrency: every write bumps it, and writers must present the version
// they read.
type DefectRecord struct {
	ID                string `gorm:"primaryKey;type:varchar(36)"`
	Program           string `gorm:"index:idx_defect_program_status,priority:1;default:default"`
	Title             string
	Description       string
	Severity          string `gorm:"index"`
	Priority          string
	Status            string `gorm:"index:idx_defect_program_status,priority:2"`
	Component         string
	Environment       string
	RaisedBy          string
	AssignedTo        string `gorm:"index"`
	AssignedAt        *time.Time
	SLADeadline       *time.Time
	OriginExecutionID string `gorm:"index"`
	TestCaseID        string
	RunID             string `gorm:"index"`
	ResolutionType    string
	RootCause         string
	Version           int       `gorm:"not null;default:1"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the table name for defect records.
func (DefectRecord) TableName() string {
	return "defects"
}

// DefectLinkRecord is the GORM model for a typed defect link. Defect-to-defect
// links use target_type "defect"; blocks links store the gate target entity.
type DefectLinkRecord struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Program    string `gorm:"default:default"`
	SourceID   string `gorm:"uniqueIndex:uniq_defect_link,priority:1;index"`
	LinkType   string `gorm:"uniqueIndex:uniq_defect_link,priority:2"`
	TargetType string `gorm:"uniqueIndex:uniq_defect_link,priority:3;index:idx_link_target,priority:1"`
	TargetID   string `gorm:"uniqueIndex:uniq_defect_link,priority:4;index:idx_link_target,priority:2"`
	CreatedBy  string
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName sets the table name for defect link records.
func (DefectLinkRecord) TableName() string {
	return "defect_links"
}

// TransitionRecord is the GORM model for one entry in a defect's transition
// history. Rows are append-only.
type TransitionRecord struct {
	ID                string `gorm:"primaryKey;type:varchar(36)"`
	Program           string `gorm:"default:default"`
	DefectID          string `gorm:"index:idx_transition_defect,priority:1"`
	Action            string
	FromStatus        string
	ToStatus          string
	Actor             string
	Reason            string
	ResolutionType    string
	RetestExecutionID string
	CreatedAt         time.Time `gorm:"autoCreateTime;index:idx_transition_defect,priority:2"`
}

// TableName sets the table name for defect transition records.
func (TransitionRecord) TableName() string {
	return "defect_transitions"
}

func recordToDefect(rec *DefectRecord) Defect {
	return Defect{
		ID:                rec.ID,
		Program:           rec.Program,
		Title:             rec.Title,
		Description:       rec.Description,
		Severity:          Severity(rec.Severity),
		Priority:          Priority(rec.Priority),
		Status:            DefectStatus(rec.Status),
		Component:         rec.Component,
		Environment:       rec.Environment,
		RaisedBy:          rec.RaisedBy,
		AssignedTo:        rec.AssignedTo,
		AssignedAt:        rec.AssignedAt,
		SLADeadline:       rec.SLADeadline,
		OriginExecutionID: rec.OriginExecutionID,
		TestCaseID:        rec.TestCaseID,
		RunID:             rec.RunID,
		ResolutionType:    ResolutionType(rec.ResolutionType),
		RootCause:         rec.RootCause,
		Version:           rec.Version,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func linkRecordToLink(rec DefectLinkRecord) Link {
	return Link{
		ID:         rec.ID,
		SourceID:   rec.SourceID,
		Type:       LinkType(rec.LinkType),
		TargetType: rec.TargetType,
		TargetID:   rec.TargetID,
		CreatedBy:  rec.CreatedBy,
		CreatedAt:  rec.CreatedAt,
	}
}

func transitionRecordToTransition(rec TransitionRecord) Transition {
	return Transition{
		ID:                rec.ID,
		DefectID:          rec.DefectID,
		Action:            rec.Action,
		FromStatus:        DefectStatus(rec.FromStatus),
		ToStatus:          DefectStatus(rec.ToStatus),
		Actor:             rec.Actor,
		Reason:            rec.Reason,
		ResolutionType:    ResolutionType(rec.ResolutionType),
		RetestExecutionID: rec.RetestExecutionID,
		CreatedAt:         rec.CreatedAt,
	}
}
