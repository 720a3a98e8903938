package model

import "fmt"

type Role string

const (
	RoleMod        Role = "mod"
	RoleAdmin      Role = "admin"
	RoleHeadmaster Role = "headmaster"
)

var roleRank = map[Role]int{
	RoleMod:        1,
	RoleAdmin:      2,
	RoleHeadmaster: 3,
}

// AllRoles is granted to the first account created on a site.
func AllRoles() []Role {
	return []Role{RoleHeadmaster, RoleAdmin, RoleMod}
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrorInvalidRole, s)
	}
	return r, nil
}

func HasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// AddRole returns roles with role appended unless already present.
func AddRole(roles []Role, role Role) []Role {
	if HasRole(roles, role) {
		return roles
	}
	return append(roles, role)
}

func RemoveRole(roles []Role, role Role) []Role {
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if r != role {
			out = append(out, r)
		}
	}
	return out
}

// RoleScore is the highest rank among roles: mod 1, admin 2, headmaster 3.
// Unknown tags rank 0.
func RoleScore(roles []Role) int {
	score := 0
	for _, r := range roles {
		if rank := roleRank[r]; rank > score {
			score = rank
		}
	}
	return score
}

func IsAdmin(roles []Role) bool {
	return HasRole(roles, RoleAdmin)
}

func IsModerator(roles []Role) bool {
	return HasRole(roles, RoleMod) || IsAdmin(roles)
}
