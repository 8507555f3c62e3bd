package testutil

// FixedRunIDs returns run ids from a fixed list, then repeats the last one.
//
// It satisfies pipeline.IDGenerator so stored runs and golden output stay
// stable across test runs. Not safe for concurrent use.
type FixedRunIDs struct {
	ids []string
	i   int
}

// NewFixedRunIDs creates a generator over ids. With no ids it always returns
// "run-test".
func NewFixedRunIDs(ids ...string) *FixedRunIDs {
	if len(ids) == 0 {
		ids = []string{"run-test"}
	}
	return &FixedRunIDs{ids: ids}
}

// Generate returns the next run id.
func (g *FixedRunIDs) Generate() string {
	id := g.ids[g.i]
	if g.i < len(g.ids)-1 {
		g.i++
	}
	return id
}
