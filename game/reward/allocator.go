// Package reward computes the payout for a completed quest: the points delta
// and an optional collectible drawn from the reference set. The quest store
// applies the result to user progress; calling Allocate has no side effects.
package reward

import (
	"math/rand"
	"sync"

	"github.com/lumahq/campusquest/server/resource"
)

// Award is the outcome of a completion payout.
type Award struct {
	PointsDelta int
	// Collectible is the newly granted item, nil when none was awarded.
	Collectible *resource.Collectible
	// AlreadyOwned is set when the drawn collectible was owned before; the
	// draw is then discarded so the user never holds a duplicate.
	AlreadyOwned bool
}

// Allocator selects completion rewards.
type Allocator struct {
	res *resource.Loader

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Allocator drawing collectibles with the given random source.
func New(res *resource.Loader, seed int64) *Allocator {
	return &Allocator{res: res, rng: rand.New(rand.NewSource(seed))}
}

// Allocate computes the reward for completing quest. owned holds the ids of
// collectibles the user already has. The collectible pool is the reference
// set filtered by the quest's difficulty; an empty pool simply awards no
// collectible. The draw is uniform over the pool, not over unowned items.
func (a *Allocator) Allocate(quest *resource.Quest, owned map[string]struct{}) Award {
	award := Award{PointsDelta: quest.RewardPoints}

	pool := a.res.CollectiblesByDifficulty(quest.Difficulty)
	if len(pool) == 0 {
		return award
	}

	a.mu.Lock()
	pick := pool[a.rng.Intn(len(pool))]
	a.mu.Unlock()

	if _, has := owned[pick.ID]; has {
		award.AlreadyOwned = true
		return award
	}
	award.Collectible = &pick
	return award
}
