package permission

// Mode selects how a list of names is matched.
type Mode uint8

const (
	// ModeAll requires every listed name.
	ModeAll Mode = iota
	// ModeAny requires at least one listed name.
	ModeAny
)

func (m Mode) String() string {
	if m == ModeAny {
		return "any"
	}
	return "all"
}

// Denial is the outcome of evaluating a Requirement.
type Denial uint8

const (
	// Allowed means the requirement is met.
	Allowed Denial = iota
	// DeniedRole means the role condition failed.
	DeniedRole
	// DeniedPermission means the role condition passed and the permission
	// condition failed.
	DeniedPermission
)

// Requirement is what a route demands of an authenticated caller. Empty
// lists are satisfied in either mode.
type Requirement struct {
	Roles          []string
	RoleMode       Mode
	Permissions    []string
	PermissionMode Mode

	// Fresh evaluates against the current store state instead of the
	// snapshot carried in the access token.
	Fresh bool
}

// Evaluate checks the requirement against a caller's roles and permissions.
// Roles are checked first.
func (r Requirement) Evaluate(roles, perms Set) Denial {
	if !match(roles, r.RoleMode, r.Roles) {
		return DeniedRole
	}
	if !match(perms, r.PermissionMode, r.Permissions) {
		return DeniedPermission
	}
	return Allowed
}

func match(have Set, mode Mode, want []string) bool {
	if mode == ModeAny {
		return have.HasAny(want...)
	}
	return have.HasAll(want...)
}

// AllOf requires every listed permission.
func AllOf(perms ...string) Requirement {
	return Requirement{Permissions: perms, PermissionMode: ModeAll}
}

// AnyOf requires at least one listed permission.
func AnyOf(perms ...string) Requirement {
	return Requirement{Permissions: perms, PermissionMode: ModeAny}
}

// RolesOf requires roles matched with mode.
func RolesOf(mode Mode, roles ...string) Requirement {
	return Requirement{Roles: roles, RoleMode: mode}
}
