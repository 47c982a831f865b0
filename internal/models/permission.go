package models

// Role is a permission granted on a component or globally.
type Role string

const (
	RoleUser       Role = "user"
	RoleCodeViewer Role = "codeviewer"
	RoleIssueAdmin Role = "issueadmin"
	// RoleAdmin is the global administrative permission.
	RoleAdmin Role = "admin"
)

// GroupAnyone is the implicit group every caller, anonymous included, belongs to.
const GroupAnyone = "Anyone"

// SubjectKind tells whether a grant targets a user or a group.
type SubjectKind string

const (
	SubjectUser  SubjectKind = "user"
	SubjectGroup SubjectKind = "group"
)

// Grant gives Role to a subject on ComponentUUID, or globally when ComponentUUID is empty.
type Grant struct {
	SubjectKind   SubjectKind
	Subject       string
	ComponentUUID string
	Role          Role
}

// IsGlobal reports whether the grant is not bound to a component.
func (g Grant) IsGlobal() bool {
	return g.ComponentUUID == ""
}

// Caller identifies who runs a search. An empty Login is an anonymous caller.
type Caller struct {
	Login  string
	Groups []string
}

// Anonymous returns a caller with no login and no explicit groups.
func Anonymous() Caller {
	return Caller{}
}

// IsLoggedIn reports whether the caller is authenticated.
func (c Caller) IsLoggedIn() bool {
	return c.Login != ""
}

// GroupNames returns the caller's groups including the implicit Anyone group.
func (c Caller) GroupNames() []string {
	out := make([]string, 0, len(c.Groups)+1)
	out = append(out, GroupAnyone)
	for _, g := range c.Groups {
		if g != GroupAnyone {
			out = append(out, g)
		}
	}
	return out
}

// Matches reports whether the grant applies to the caller, directly or through a group.
func (c Caller) Matches(g Grant) bool {
	switch g.SubjectKind {
	case SubjectUser:
		return c.Login != "" && g.Subject == c.Login
	case SubjectGroup:
		for _, name := range c.GroupNames() {
			if name == g.Subject {
				return true
			}
		}
	}
	return false
}
