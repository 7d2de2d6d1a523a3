package router

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rosterbot/pkg/types"
)

func char(user, name string, role types.Role, score float64) *types.Character {
	return &types.Character{UserID: user, Name: name, Role: role, Score: score, Available: true}
}

func TestBuildGroups_FillsByScore(t *testing.T) {
	var chars []*types.Character
	chars = append(chars,
		char("t1", "TankA", types.RoleTank, 2000),
		char("t2", "TankB", types.RoleTank, 3000),
		char("h1", "HealA", types.RoleHealer, 2500),
		char("h2", "HealB", types.RoleHealer, 1500),
	)
	for i := 0; i < 7; i++ {
		chars = append(chars, char(fmt.Sprintf("d%d", i), fmt.Sprintf("Dps%d", i), types.RoleDPS, float64(1000+i*100)))
	}

	roster := BuildGroups(chars)
	require.Len(t, roster.Groups, 2)

	first := roster.Groups[0]
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "TankB", first.Tank.Name)
	assert.Equal(t, "HealA", first.Healer.Name)
	require.Len(t, first.DPS, 3)
	assert.Equal(t, "Dps6", first.DPS[0].Name)
	assert.Equal(t, "Dps4", first.DPS[2].Name)

	second := roster.Groups[1]
	assert.Equal(t, "TankA", second.Tank.Name)
	assert.Equal(t, "HealB", second.Healer.Name)

	require.Len(t, roster.Bench, 1)
	assert.Equal(t, "Dps0", roster.Bench[0].Name)
}

func TestBuildGroups_OneCharacterPerUser(t *testing.T) {
	chars := []*types.Character{
		char("u1", "MainTank", types.RoleTank, 3000),
		char("u1", "AltHealer", types.RoleHealer, 2900),
		char("u2", "Healer", types.RoleHealer, 1000),
		char("u3", "D1", types.RoleDPS, 900),
		char("u4", "D2", types.RoleDPS, 800),
		char("u5", "D3", types.RoleDPS, 700),
	}

	roster := BuildGroups(chars)
	require.Len(t, roster.Groups, 1)
	g := roster.Groups[0]
	assert.Equal(t, "MainTank", g.Tank.Name)
	assert.Equal(t, "Healer", g.Healer.Name)

	seen := map[string]bool{}
	for _, c := range g.Members() {
		assert.False(t, seen[c.UserID], "user %s placed twice", c.UserID)
		seen[c.UserID] = true
	}
	assert.Empty(t, roster.Bench)
}

func TestBuildGroups_IncompleteGoesToBench(t *testing.T) {
	chars := []*types.Character{
		char("u1", "Tank", types.RoleTank, 3000),
		char("u2", "D1", types.RoleDPS, 900),
	}

	roster := BuildGroups(chars)
	assert.Empty(t, roster.Groups)
	require.Len(t, roster.Bench, 2)
	assert.Equal(t, "Tank", roster.Bench[0].Name)
}

func TestBuildGroups_DoesNotReorderInput(t *testing.T) {
	chars := []*types.Character{
		char("u1", "Low", types.RoleDPS, 1),
		char("u2", "High", types.RoleDPS, 2),
	}
	BuildGroups(chars)
	assert.Equal(t, "Low", chars[0].Name)
}
