package ranking

// =============================================================================
// DEFAULT RANK TABLE - Seed configuration
// =============================================================================

// DefaultRanks is the stock five-tier table used by the seed command and by
// tests that don't care about specific thresholds. Production deployments
// configure their own tiers; the engine only requires the table invariants.
func DefaultRanks() []Rank {
	return []Rank{
		{ID: "bronze", Name: "Bronze", Level: 1, MinPoints: NewPoints(0)},
		{ID: "silver", Name: "Silver", Level: 2, MinPoints: NewPoints(1000)},
		{ID: "gold", Name: "Gold", Level: 3, MinPoints: NewPoints(5000)},
		{ID: "platinum", Name: "Platinum", Level: 4, MinPoints: NewPoints(15000)},
		{ID: "diamond", Name: "Diamond", Level: 5, MinPoints: NewPoints(40000)},
	}
}

// MustRankTable builds a table from tiers known to be valid; panics
// otherwise. Seed/test convenience only.
func MustRankTable(ranks []Rank) *RankTable {
	t, err := NewRankTable(ranks)
	if err != nil {
		panic(err)
	}
	return t
}
