package perm

import (
	"encoding/json"
	"testing"

	"aegisd/internal/auth"
)

var allRoles = []auth.Role{auth.RoleAdmin, auth.RoleSecurity, auth.RoleNetwork, auth.RoleAuditor}

// The authoritative allow list; anything outside it must deny.
var allowed = map[Channel][]auth.Role{
	ChannelSecurity: {auth.RoleAdmin, auth.RoleSecurity},
	ChannelNetwork:  {auth.RoleAdmin, auth.RoleNetwork, auth.RoleSecurity},
	ChannelLogs:     {auth.RoleAdmin, auth.RoleAuditor},
}

func isListed(role auth.Role, ch Channel) bool {
	for _, r := range allowed[ch] {
		if r == role {
			return true
		}
	}
	return false
}

func TestTableIsTotal(t *testing.T) {
	for _, ch := range Channels() {
		for _, role := range allRoles {
			got := CanStream(role, ch)
			want := isListed(role, ch)
			if got != want {
				t.Fatalf("CanStream(%q, %q) = %v, want %v", role, ch, got, want)
			}
		}
	}
}

func TestUnknownValuesDeny(t *testing.T) {
	if CanStream(auth.RoleAdmin, Channel("telemetry")) {
		t.Fatalf("unknown channel allowed")
	}
	if CanStream(auth.Role("superuser"), ChannelSecurity) {
		t.Fatalf("unknown role allowed")
	}
	if CanStream(auth.Role(""), Channel("")) {
		t.Fatalf("empty pair allowed")
	}
	if ValidChannel(Channel("telemetry")) {
		t.Fatalf("unknown channel reported valid")
	}
}

func TestAdminOnlyOperations(t *testing.T) {
	if !CanManageUsers(auth.RoleAdmin) {
		t.Fatalf("admin denied user management")
	}
	for _, role := range []auth.Role{auth.RoleSecurity, auth.RoleNetwork, auth.RoleAuditor, auth.Role("x")} {
		if CanManageUsers(role) {
			t.Fatalf("role %q allowed user management", role)
		}
	}
}

func TestTableRoundTripStable(t *testing.T) {
	// Serializing the table and evaluating again must yield identical
	// decisions.
	data, err := json.Marshal(Table())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[Channel][]auth.Role
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, ch := range Channels() {
		for _, role := range allRoles {
			listed := false
			for _, r := range decoded[ch] {
				if r == role {
					listed = true
				}
			}
			if listed != CanStream(role, ch) {
				t.Fatalf("round-trip decision mismatch for (%q, %q)", role, ch)
			}
		}
	}
}
