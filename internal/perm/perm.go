// Package perm maps (role, resource) pairs to allow/deny decisions. The table
// is fixed at compile time; anything not explicitly listed is denied.
package perm

import "aegisd/internal/auth"

// Channel is a named category of streamed telemetry.
type Channel string

const (
	ChannelSecurity Channel = "security"
	ChannelNetwork  Channel = "network"
	ChannelLogs     Channel = "logs"
)

var channelRoles = map[Channel]map[auth.Role]struct{}{
	ChannelSecurity: roleSet(auth.RoleAdmin, auth.RoleSecurity),
	ChannelNetwork:  roleSet(auth.RoleAdmin, auth.RoleNetwork, auth.RoleSecurity),
	ChannelLogs:     roleSet(auth.RoleAdmin, auth.RoleAuditor),
}

func roleSet(roles ...auth.Role) map[auth.Role]struct{} {
	set := make(map[auth.Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

func ValidChannel(ch Channel) bool {
	_, ok := channelRoles[ch]
	return ok
}

// CanStream reports whether role may join the given channel. Unknown channels
// and unknown roles always deny.
func CanStream(role auth.Role, ch Channel) bool {
	set, ok := channelRoles[ch]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// CanManageUsers gates the admin-only operations (user creation, destructive
// tool actions).
func CanManageUsers(role auth.Role) bool {
	return role == auth.RoleAdmin
}

// Channels returns the enumerated channel set.
func Channels() []Channel {
	return []Channel{ChannelSecurity, ChannelNetwork, ChannelLogs}
}

// Table exposes the allow table in a serializable form, used by tests to
// check that the mapping is stable.
func Table() map[Channel][]auth.Role {
	out := make(map[Channel][]auth.Role, len(channelRoles))
	for ch, set := range channelRoles {
		roles := make([]auth.Role, 0, len(set))
		for _, r := range []auth.Role{auth.RoleAdmin, auth.RoleSecurity, auth.RoleNetwork, auth.RoleAuditor} {
			if _, ok := set[r]; ok {
				roles = append(roles, r)
			}
		}
		out[ch] = roles
	}
	return out
}
