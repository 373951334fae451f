package metadata

import "strings"

const (
	RoleCEO      = "ceo"
	RoleCFO      = "cfo"
	RoleDirector = "director"
	RoleOfficer  = "officer"
	RoleOther    = "other"
)

// NormalizeRole maps free-text filing relationships ("Chief Executive Officer",
// "Dir", "10% Owner") onto a small set of comparable roles.
func NormalizeRole(s string) string {
	r := strings.ToLower(strings.TrimSpace(s))
	switch {
	case r == "":
		return RoleOther
	case strings.Contains(r, "ceo") || strings.Contains(r, "chief executive"):
		return RoleCEO
	case strings.Contains(r, "cfo") || strings.Contains(r, "chief financial"):
		return RoleCFO
	case strings.Contains(r, "director") || r == "dir":
		return RoleDirector
	case strings.Contains(r, "officer") || strings.Contains(r, "president") || strings.Contains(r, "vp"):
		return RoleOfficer
	}
	return RoleOther
}
