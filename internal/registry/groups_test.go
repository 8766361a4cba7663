package registry

import (
	"sort"
	"testing"
)

func TestJoinLeaveIdempotent(t *testing.T) {
	groups := NewGroups()

	groups.Join("h1", "Admin")
	groups.Join("h1", "Admin")
	groups.Join("h2", "Admin")

	members := groups.MembersOf("Admin")
	if len(members) != 2 {
		t.Fatalf("MembersOf(Admin) = %v, want 2 members", members)
	}

	groups.Leave("h1", "Admin")
	groups.Leave("h1", "Admin")
	groups.Leave("h1", "NoSuchGroup")

	members = groups.MembersOf("Admin")
	if len(members) != 1 || members[0] != "h2" {
		t.Errorf("MembersOf(Admin) = %v, want [h2]", members)
	}
}

func TestMembersOfIsSnapshot(t *testing.T) {
	groups := NewGroups()
	groups.Join("h1", "User")
	groups.Join("h2", "User")

	snapshot := groups.MembersOf("User")
	groups.Leave("h1", "User")
	groups.Leave("h2", "User")

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	if len(snapshot) != 2 || snapshot[0] != "h1" || snapshot[1] != "h2" {
		t.Errorf("snapshot mutated by later leaves: %v", snapshot)
	}
	if got := groups.MembersOf("User"); len(got) != 0 {
		t.Errorf("MembersOf(User) = %v after leaves, want empty", got)
	}
}

func TestJoinIgnoresEmptyArgs(t *testing.T) {
	groups := NewGroups()

	groups.Join("", "Admin")
	groups.Join("h1", "")

	if got := groups.MembersOf("Admin"); len(got) != 0 {
		t.Errorf("MembersOf(Admin) = %v, want empty", got)
	}
}

func TestDropAllRemovesFromEveryGroup(t *testing.T) {
	groups := NewGroups()
	groups.Join("h1", "Admin")
	groups.Join("h1", "audit")
	groups.Join("h2", "audit")

	groups.dropAll("h1")

	if got := groups.MembersOf("Admin"); len(got) != 0 {
		t.Errorf("MembersOf(Admin) = %v after dropAll, want empty", got)
	}
	if got := groups.MembersOf("audit"); len(got) != 1 || got[0] != "h2" {
		t.Errorf("MembersOf(audit) = %v after dropAll, want [h2]", got)
	}
}
