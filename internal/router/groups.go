package router

import (
	"sort"

	"rosterbot/pkg/types"
)

// Group composition.
const (
	TanksPerGroup   = 1
	HealersPerGroup = 1
	DPSPerGroup     = 3
)

// Group is one five-player party.
type Group struct {
	Number int                `json:"number"`
	Tank   *types.Character   `json:"tank"`
	Healer *types.Character   `json:"healer"`
	DPS    []*types.Character `json:"dps"`
}

// Members returns the group in tank, healer, dps order.
func (g Group) Members() []*types.Character {
	out := []*types.Character{g.Tank, g.Healer}
	return append(out, g.DPS...)
}

// Roster is the result of organizing available characters.
type Roster struct {
	Groups []Group            `json:"groups"`
	Bench  []*types.Character `json:"bench"`
}

// BuildGroups fills groups greedily by score. Each user appears at most once
// across all groups; characters that fit no complete group go to the bench,
// except alternates of users already placed.
func BuildGroups(chars []*types.Character) Roster {
	sorted := make([]*types.Character, len(chars))
	copy(sorted, chars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	pools := map[types.Role][]*types.Character{}
	for _, c := range sorted {
		pools[c.Role] = append(pools[c.Role], c)
	}

	placedUser := make(map[string]bool)
	placedChar := make(map[*types.Character]bool)

	pick := func(role types.Role, n int, taken map[string]bool) []*types.Character {
		var out []*types.Character
		for _, c := range pools[role] {
			if len(out) == n {
				break
			}
			if placedChar[c] || placedUser[c.UserID] || taken[c.UserID] {
				continue
			}
			out = append(out, c)
			taken[c.UserID] = true
		}
		return out
	}

	var roster Roster
	for {
		taken := make(map[string]bool)
		tanks := pick(types.RoleTank, TanksPerGroup, taken)
		healers := pick(types.RoleHealer, HealersPerGroup, taken)
		dps := pick(types.RoleDPS, DPSPerGroup, taken)
		if len(tanks) < TanksPerGroup || len(healers) < HealersPerGroup || len(dps) < DPSPerGroup {
			break
		}

		g := Group{Number: len(roster.Groups) + 1, Tank: tanks[0], Healer: healers[0], DPS: dps}
		for _, c := range g.Members() {
			placedChar[c] = true
			placedUser[c.UserID] = true
		}
		roster.Groups = append(roster.Groups, g)
	}

	for _, c := range sorted {
		if !placedUser[c.UserID] {
			roster.Bench = append(roster.Bench, c)
		}
	}
	return roster
}
