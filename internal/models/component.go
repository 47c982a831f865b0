package models

import "strings"

// Component qualifiers.
const (
	QualifierProject   = "TRK"
	QualifierModule    = "BRC"
	QualifierDirectory = "DIR"
	QualifierFile      = "FIL"
)

// Component scopes.
const (
	ScopeProject   = "PRJ"
	ScopeDirectory = "DIR"
	ScopeFile      = "FIL"
)

// Component is a node of the analysed code tree: a project, a module, a directory or a file.
// Disabled components are logically removed but may still be referenced by issues.
type Component struct {
	ID          int64 // numeric id kept for older integrations
	UUID        string
	Key         string
	Name        string
	LongName    string
	Qualifier   string
	Scope       string
	Path        string
	Language    string
	Enabled     bool
	ProjectUUID string
	ParentUUID  string
	UUIDPath    string // ".A.B." ancestor uuids, root first, self excluded
}

// IsProject reports whether the component is the root of a project tree.
func (c *Component) IsProject() bool {
	return c.ParentUUID == ""
}

// Ancestors returns the ancestor uuids found in UUIDPath, root first.
func (c *Component) Ancestors() []string {
	var out []string
	for _, p := range strings.Split(c.UUIDPath, ".") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChildUUIDPath returns the UUIDPath a direct child of c must carry.
func (c *Component) ChildUUIDPath() string {
	path := c.UUIDPath
	if path == "" {
		path = "."
	}
	return path + c.UUID + "."
}

// Rule is the coding rule that raised an issue.
type Rule struct {
	Key         string // repository:key
	Name        string
	Description string
	Status      string
	Language    string
}
