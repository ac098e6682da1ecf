package reward

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumahq/campusquest/server/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderWith(t *testing.T, collectibles []resource.Collectible) *resource.Loader {
	t.Helper()
	dir := t.TempDir()

	quests, err := json.Marshal([]resource.Quest{{ID: "q1", Title: "Q1"}})
	require.NoError(t, err)
	qp := filepath.Join(dir, "quests.json")
	require.NoError(t, os.WriteFile(qp, quests, 0644))

	items, err := json.Marshal(collectibles)
	require.NoError(t, err)
	cp := filepath.Join(dir, "collectibles.json")
	require.NoError(t, os.WriteFile(cp, items, 0644))

	l := resource.NewLoader(qp, cp, 0)
	require.NoError(t, l.Load())
	return l
}

func easyQuest(points int) *resource.Quest {
	return &resource.Quest{
		ID:           "library-tour",
		Title:        "Library Tour",
		Difficulty:   resource.DifficultyEasy,
		RewardPoints: points,
	}
}

func TestAllocate_PointsDelta(t *testing.T) {
	l := loaderWith(t, nil)
	a := New(l, 1)

	award := a.Allocate(easyQuest(100), nil)
	assert.Equal(t, 100, award.PointsDelta)
	assert.Nil(t, award.Collectible)
	assert.False(t, award.AlreadyOwned)
}

func TestAllocate_CollectibleByDifficulty(t *testing.T) {
	l := loaderWith(t, []resource.Collectible{
		{ID: "owl", Name: "Bronze Owl", Difficulty: "Easy"},
		{ID: "gem", Name: "Hard Gem", Difficulty: "hard"},
	})
	a := New(l, 1)

	award := a.Allocate(easyQuest(50), map[string]struct{}{})
	require.NotNil(t, award.Collectible)
	assert.Equal(t, "owl", award.Collectible.ID, "difficulty match is case-insensitive")
}

func TestAllocate_NeverDuplicates(t *testing.T) {
	l := loaderWith(t, []resource.Collectible{
		{ID: "owl", Difficulty: "easy"},
	})
	a := New(l, 42)
	owned := map[string]struct{}{"owl": {}}

	// The only candidate is already owned: many draws must never re-award it.
	for i := 0; i < 50; i++ {
		award := a.Allocate(easyQuest(10), owned)
		assert.Nil(t, award.Collectible)
		assert.True(t, award.AlreadyOwned)
		assert.Equal(t, 10, award.PointsDelta, "points are unaffected by the duplicate draw")
	}
}

func TestAllocate_EmptyPoolIsNotAnError(t *testing.T) {
	l := loaderWith(t, []resource.Collectible{
		{ID: "gem", Difficulty: "hard"},
	})
	a := New(l, 7)

	award := a.Allocate(easyQuest(10), nil)
	assert.Nil(t, award.Collectible)
	assert.False(t, award.AlreadyOwned)
}

func TestAllocate_DrawIsFromMatchingPool(t *testing.T) {
	l := loaderWith(t, []resource.Collectible{
		{ID: "a", Difficulty: "easy"},
		{ID: "b", Difficulty: "easy"},
		{ID: "c", Difficulty: "medium"},
	})
	a := New(l, 99)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		award := a.Allocate(easyQuest(1), nil)
		require.NotNil(t, award.Collectible)
		seen[award.Collectible.ID] = true
		assert.NotEqual(t, "c", award.Collectible.ID)
	}
	assert.True(t, seen["a"] && seen["b"], "both easy collectibles should appear over many draws")
}
