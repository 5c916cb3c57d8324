package sonatacore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGatherSingleContributionIsIdentity(t *testing.T) {
	sites := []SourceSite{{Section: 0, Position: 0.5, Threshold: -55}}
	merged, err := Gather(context.Background(), []RankContribution{{
		Gids:    []int{3},
		Counts:  []int{1},
		Sources: [][]SourceSite{sites},
	}})
	require.NoError(t, err)
	require.Equal(t, sites, merged[3])
}

func TestGatherMergesDedupsAndSortsAcrossContributions(t *testing.T) {
	a := RankContribution{
		Gids:   []int{0, 1},
		Counts: []int{2, 1},
		Sources: [][]SourceSite{
			{{Section: 1, Position: 0.5, Threshold: -50}, {Section: 0, Position: 0.9, Threshold: -50}},
			{{Section: 2, Position: 0.1, Threshold: -45}},
		},
	}
	b := RankContribution{
		Gids:   []int{0},
		Counts: []int{2},
		Sources: [][]SourceSite{
			{{Section: 0, Position: 0.9, Threshold: -50}, {Section: 0, Position: 0.2, Threshold: -50}},
		},
	}

	merged, err := Gather(context.Background(), []RankContribution{a, b})
	require.NoError(t, err)

	require.Equal(t, []SourceSite{
		{Section: 0, Position: 0.2, Threshold: -50},
		{Section: 0, Position: 0.9, Threshold: -50},
		{Section: 1, Position: 0.5, Threshold: -50},
	}, merged[0], "duplicate (section,position) entries across contributions must collapse")
	require.Equal(t, []SourceSite{{Section: 2, Position: 0.1, Threshold: -45}}, merged[1])
}

func TestGatherRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Gather(ctx, []RankContribution{{
		Gids:    []int{0},
		Counts:  []int{0},
		Sources: [][]SourceSite{nil},
	}})
	require.ErrorIs(t, err, context.Canceled)
}
