package registry

import "sync"

// Groups maintains named rosters of connection handles. Membership is
// a function of the authenticated role at connect time, never settable
// by client traffic.
type Groups struct {
	mu      sync.RWMutex
	rosters map[string]map[Handle]struct{}
}

func NewGroups() *Groups {
	return &Groups{rosters: make(map[string]map[Handle]struct{})}
}

func (g *Groups) Join(handle Handle, group string) {
	if handle == "" || group == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	roster := g.rosters[group]
	if roster == nil {
		roster = make(map[Handle]struct{})
		g.rosters[group] = roster
	}
	roster[handle] = struct{}{}
}

func (g *Groups) Leave(handle Handle, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if roster := g.rosters[group]; roster != nil {
		delete(roster, handle)
		if len(roster) == 0 {
			delete(g.rosters, group)
		}
	}
}

// MembersOf returns a point-in-time snapshot of a roster. Callers must
// tolerate staleness versus concurrent joins and leaves.
func (g *Groups) MembersOf(group string) []Handle {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roster := g.rosters[group]
	members := make([]Handle, 0, len(roster))
	for handle := range roster {
		members = append(members, handle)
	}
	return members
}

func (g *Groups) dropAll(handle Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for group, roster := range g.rosters {
		delete(roster, handle)
		if len(roster) == 0 {
			delete(g.rosters, group)
		}
	}
}
