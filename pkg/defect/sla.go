package defect

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SLAStatus is the derived resolution-deadline status of an assigned defect.
// It is computed at read time from (assignedAt, deadline, now) and never
// stored.
type SLAStatus string

const (
	SLAOnTrack  SLAStatus = "on_track"
	SLAWarning  SLAStatus = "warning"
	SLABreached SLAStatus = "breached"
)

// warningFraction is the elapsed fraction of the resolution window at which
// an on-track defect starts warning.
const warningFraction = 0.75

// SLAInfo is the computed SLA block returned on defect reads.
type SLAInfo struct {
	Deadline        time.Time `json:"deadline"`
	ElapsedFraction float64   `json:"elapsedFraction"`
	Status          SLAStatus `json:"status"`
}

// Matrix maps severity and priority to a resolution window. The deadline for
// a defect is assignedAt plus the window for its (severity, priority) cell.
type Matrix map[Severity]map[Priority]time.Duration

// DefaultMatrix returns the built-in resolution windows. S1+P1 incidents get
// four hours; the windows widen toward S4+P4, which is treated as a
// sprint-length commitment.
func DefaultMatrix() Matrix {
	return Matrix{
		SeverityS1: {PriorityP1: 4 * time.Hour, PriorityP2: 8 * time.Hour, PriorityP3: 24 * time.Hour, PriorityP4: 48 * time.Hour},
		SeverityS2: {PriorityP1: 8 * time.Hour, PriorityP2: 24 * time.Hour, PriorityP3: 48 * time.Hour, PriorityP4: 72 * time.Hour},
		SeverityS3: {PriorityP1: 24 * time.Hour, PriorityP2: 48 * time.Hour, PriorityP3: 96 * time.Hour, PriorityP4: 168 * time.Hour},
		SeverityS4: {PriorityP1: 48 * time.Hour, PriorityP2: 96 * time.Hour, PriorityP3: 168 * time.Hour, PriorityP4: 720 * time.Hour},
	}
}

// Window returns the resolution window for a severity and priority.
func (m Matrix) Window(severity Severity, priority Priority) (time.Duration, bool) {
	row, ok := m[severity]
	if !ok {
		return 0, false
	}
	window, ok := row[priority]
	return window, ok
}

// Deadline computes the SLA deadline for a defect assigned at assignedAt.
// The deadline depends only on (severity, priority, assignedAt), never on
// the current time.
func (m Matrix) Deadline(assignedAt time.Time, severity Severity, priority Priority) (time.Time, error) {
	window, ok := m.Window(severity, priority)
	if !ok {
		return time.Time{}, fmt.Errorf("no SLA window for severity %s priority %s", severity, priority)
	}
	return assignedAt.Add(window), nil
}

// EvaluateSLA derives the SLA status from the assignment time, the stored
// deadline, and the observation time. The result is monotonic in now: once
// warning, never back to on_track; once breached, never back to warning.
func EvaluateSLA(assignedAt, deadline, now time.Time) SLAInfo {
	window := deadline.Sub(assignedAt)
	info := SLAInfo{Deadline: deadline}
	if window <= 0 {
		info.Status = SLABreached
		info.ElapsedFraction = 1
		return info
	}
	info.ElapsedFraction = float64(now.Sub(assignedAt)) / float64(window)
	switch {
	case now.After(deadline):
		info.Status = SLABreached
	case info.ElapsedFraction >= warningFraction:
		info.Status = SLAWarning
	default:
		info.Status = SLAOnTrack
	}
	return info
}

// slaFile is the YAML shape of an SLA matrix override file.
type slaFile struct {
	Windows map[string]map[string]string `yaml:"windows"`
}

// LoadMatrix reads a YAML SLA override file and overlays it on the default
// matrix. Missing cells keep their defaults; unknown severities, priorities,
// or unparseable durations are errors.
func LoadMatrix(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SLA matrix: %w", err)
	}
	return parseMatrix(data)
}

func parseMatrix(data []byte) (Matrix, error) {
	var file slaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse SLA matrix: %w", err)
	}

	matrix := DefaultMatrix()
	for sev, row := range file.Windows {
		severity := Severity(sev)
		if !ValidSeverity(severity) {
			return nil, fmt.Errorf("parse SLA matrix: unknown severity %q", sev)
		}
		for pri, raw := range row {
			priority := Priority(pri)
			if !ValidPriority(priority) {
				return nil, fmt.Errorf("parse SLA matrix: unknown priority %q", pri)
			}
			window, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("parse SLA matrix: window for %s/%s: %w", sev, pri, err)
			}
			if window <= 0 {
				return nil, fmt.Errorf("parse SLA matrix: window for %s/%s must be positive", sev, pri)
			}
			matrix[severity][priority] = window
		}
	}
	return matrix, nil
}
