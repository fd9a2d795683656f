package deparse

import (
	"fmt"
	"strings"

	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

// RoleSpecString resolves a role specification to text that is valid on
// another node.
func RoleSpecString(spec stmt.RoleSpec, currentUser, sessionUser string) (string, error) {
	switch spec.Type {
	case stmt.RoleSpecCString:
		return QuoteIdentifier(spec.Name), nil
	case stmt.RoleSpecCurrentUser:
		return QuoteIdentifier(currentUser), nil
	case stmt.RoleSpecSessionUser:
		return QuoteIdentifier(sessionUser), nil
	case stmt.RoleSpecPublic:
		return "PUBLIC", nil
	default:
		return "", fmt.Errorf("unexpected role type %d", spec.Type)
	}
}

// GrantPrivileges renders the privilege list; ALL when empty.
func GrantPrivileges(privs []stmt.AccessPriv) string {
	if len(privs) == 0 {
		return "ALL"
	}
	names := make([]string, 0, len(privs))
	for _, p := range privs {
		if p.Name == "" {
			names = append(names, "ALL")
			continue
		}
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

func GrantCommand(isGrant bool, privileges, target, grantees string, grantOption bool) string {
	if isGrant {
		opt := ""
		if grantOption {
			opt = " WITH GRANT OPTION"
		}
		return fmt.Sprintf("GRANT %s ON %s TO %s%s", privileges, target, grantees, opt)
	}
	opt := ""
	if grantOption {
		opt = "GRANT OPTION FOR "
	}
	return fmt.Sprintf("REVOKE %s%s ON %s FROM %s", opt, privileges, target, grantees)
}
