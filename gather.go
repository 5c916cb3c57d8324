package sonatacore

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RankContribution is one caller's local slice of the source-map build:
// the gids it owns, how many source sites each contributed, and the sites
// themselves in gid order. Gather concatenates these into the CSR-style
// source maps that every rank must end up seeing identically.
type RankContribution struct {
	Gids    []int
	Counts  []int
	Sources [][]SourceSite
}

// Gather performs the single all-ranks exchange of the source-map build:
// every contribution's per-gid source sites are merged, deduplicated on
// (section,position), and sorted into the canonical order. With exactly
// one contribution (no distributed runtime under this process) the merge
// is the identity operation on that contribution's own data.
//
// Contributions are merged concurrently via errgroup the way a real
// all-gather would overlap per-rank transfers; a real distributed backend
// would replace this body with network I/O behind the same signature.
func Gather(ctx context.Context, contributions []RankContribution) (map[int][]SourceSite, error) {
	var mu sync.Mutex
	merged := make(map[int][]SourceSite)

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range contributions {
		c := c
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			local := make(map[int][]SourceSite, len(c.Gids))
			for i, gid := range c.Gids {
				local[gid] = c.Sources[i]
			}
			mu.Lock()
			for gid, sites := range local {
				merged[gid] = append(merged[gid], sites...)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for gid, sites := range merged {
		merged[gid] = dedupSources(sites)
		sort.Slice(merged[gid], func(i, j int) bool { return sourceLess(merged[gid][i], merged[gid][j]) })
	}
	return merged, nil
}
