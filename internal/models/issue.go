package models

import "time"

// Severity ranks the impact of an issue.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
	SeverityBlocker  Severity = "BLOCKER"
)

// Severities lists all severities from least to most severe.
var Severities = []Severity{SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical, SeverityBlocker}

// SeverityRank returns the ordinal of a severity (INFO = 0). Unknown values rank -1.
func SeverityRank(s Severity) int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return -1
}

// Issue statuses.
const (
	StatusOpen      = "OPEN"
	StatusConfirmed = "CONFIRMED"
	StatusReopened  = "REOPENED"
	StatusResolved  = "RESOLVED"
	StatusClosed    = "CLOSED"
)

// Statuses lists the workflow statuses in lifecycle order.
var Statuses = []string{StatusOpen, StatusConfirmed, StatusReopened, StatusResolved, StatusClosed}

// Issue resolutions.
const (
	ResolutionFixed         = "FIXED"
	ResolutionFalsePositive = "FALSE-POSITIVE"
	ResolutionRemoved       = "REMOVED"
)

// Resolutions lists the known resolutions.
var Resolutions = []string{ResolutionFixed, ResolutionFalsePositive, ResolutionRemoved}

// IsTerminalStatus reports whether an issue in this status may carry a resolution.
func IsTerminalStatus(status string) bool {
	return status == StatusResolved || status == StatusClosed
}

// ChangeKind distinguishes comments from field changes in an issue changelog.
type ChangeKind string

const (
	ChangeComment ChangeKind = "comment"
	ChangeDiff    ChangeKind = "diff"
)

// IssueChange is a single changelog entry of an issue.
type IssueChange struct {
	Key       string
	IssueKey  string
	Kind      ChangeKind
	UserLogin string
	Data      string
	CreatedAt time.Time
}

// Issue is a static-analysis finding raised by a rule on a component.
// Assignee, Reporter and AuthorLogin hold logins, not live user references.
type Issue struct {
	Key           string
	RuleKey       string
	ComponentUUID string
	ProjectUUID   string
	Message       string
	Line          int // 0 = no line
	Status        string
	Resolution    *string
	Severity      Severity
	Debt          *int64 // minutes
	Assignee      *string
	Reporter      *string
	AuthorLogin   *string
	ActionPlanKey *string
	Attributes    map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
	Changes       []IssueChange
}

// Comments returns the comment entries of the changelog, in insertion order.
func (i *Issue) Comments() []IssueChange {
	var out []IssueChange
	for _, c := range i.Changes {
		if c.Kind == ChangeComment {
			out = append(out, c)
		}
	}
	return out
}
