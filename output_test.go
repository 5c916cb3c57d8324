package sonatacore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadWrittenGroup(t *testing.T, path string) *Group {
	t.Helper()
	raw, err := NewGobBackend().Load(path)
	require.NoError(t, err)
	return newGroup(raw)
}

func TestWriteSpikesRewritesToLocalIDsAndSortsByTime(t *testing.T) {
	dir := t.TempDir()
	nodesPath := writeBinaryFile(t, dir, "nodes.bin", "nodes", buildNodePopulation("pop_e", 3, 0))
	nodes, err := NewNodeNetworkRecord(NewGobBackend(), []string{nodesPath})
	require.NoError(t, err)

	gid0, _ := nodes.Globalize("pop_e", 0)
	gid2, _ := nodes.Globalize("pop_e", 2)

	spikesByGid := map[int][]float64{
		gid0: {5.0, 1.0},
		gid2: {3.0},
	}

	outPath := filepath.Join(dir, "spikes_out.bin")
	require.NoError(t, WriteSpikes(outPath, nodes, spikesByGid, "time"))

	root := loadWrittenGroup(t, outPath)
	spikesGroup, ok := root.ChildByName("spikes")
	require.True(t, ok)
	popGroup, ok := spikesGroup.ChildByName("pop_e")
	require.True(t, ok)

	nodeIDs, err := popGroup.Int1D("node_ids")
	require.NoError(t, err)
	timestamps, err := popGroup.FloatRange("timestamps", 0, 3)
	require.NoError(t, err)

	require.Equal(t, []float64{1.0, 3.0, 5.0}, timestamps)
	// Sorted by time: 1.0 (gid0/local0), 3.0 (gid2/local2), 5.0 (gid0/local0).
	require.Equal(t, []int{0, 2, 0}, nodeIDs)
}

func TestWriteSpikesSortsByGid(t *testing.T) {
	dir := t.TempDir()
	nodesPath := writeBinaryFile(t, dir, "nodes.bin", "nodes", buildNodePopulation("pop_e", 3, 0))
	nodes, err := NewNodeNetworkRecord(NewGobBackend(), []string{nodesPath})
	require.NoError(t, err)

	gid0, _ := nodes.Globalize("pop_e", 0)
	gid2, _ := nodes.Globalize("pop_e", 2)

	spikesByGid := map[int][]float64{
		gid2: {3.0},
		gid0: {5.0},
	}

	outPath := filepath.Join(dir, "spikes_out.bin")
	require.NoError(t, WriteSpikes(outPath, nodes, spikesByGid, "gid"))

	root := loadWrittenGroup(t, outPath)
	spikesGroup, _ := root.ChildByName("spikes")
	popGroup, _ := spikesGroup.ChildByName("pop_e")

	nodeIDs, err := popGroup.Int1D("node_ids")
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, nodeIDs)
}

func TestWriteSpikesRejectsInvalidSortOrder(t *testing.T) {
	dir := t.TempDir()
	nodesPath := writeBinaryFile(t, dir, "nodes.bin", "nodes", buildNodePopulation("pop_e", 1, 0))
	nodes, err := NewNodeNetworkRecord(NewGobBackend(), []string{nodesPath})
	require.NoError(t, err)

	err = WriteSpikes(filepath.Join(dir, "out.bin"), nodes, map[int][]float64{0: {1.0}}, "bogus")
	require.Error(t, err)
	require.True(t, IsKind(err, SchemaViolation))
}

func TestWriteTraceShapeAndMapping(t *testing.T) {
	dir := t.TempDir()
	nodesPath := writeBinaryFile(t, dir, "nodes.bin", "nodes", buildNodePopulation("pop_e", 2, 0))
	nodes, err := NewNodeNetworkRecord(NewGobBackend(), []string{nodesPath})
	require.NoError(t, err)

	gid0, _ := nodes.Globalize("pop_e", 0)
	gid1, _ := nodes.Globalize("pop_e", 1)

	gids := []int{gid0, gid0, gid1}
	elementIDs := []int{0, 1, 0}
	elementPos := []float64{0.1, 0.5, 0.9}
	timeVec := []float64{0.0, 0.1, 0.2}
	data := [][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}

	outPath := filepath.Join(dir, "trace_out.bin")
	require.NoError(t, WriteTrace(outPath, nodes, "pop_e", gids, elementIDs, elementPos, timeVec, data))

	root := loadWrittenGroup(t, outPath)
	reports, ok := root.ChildByName("reports")
	require.True(t, ok)
	popGroup, ok := reports.ChildByName("pop_e")
	require.True(t, ok)

	shape, err := popGroup.Int1D("shape")
	require.NoError(t, err)
	require.Equal(t, []int{3, 3}, shape)

	flat, err := popGroup.FloatRange("data", 0, 9)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, flat)

	mapping, ok := popGroup.ChildByName("mapping")
	require.True(t, ok)
	nodeIDs, err := mapping.Int1D("node_ids")
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, nodeIDs)

	indexPointers, err := mapping.Int1D("index_pointers")
	require.NoError(t, err)
	require.Equal(t, []int{0, 2, 3}, indexPointers)
}

func TestWriteTraceRejectsMismatchedLengths(t *testing.T) {
	dir := t.TempDir()
	nodesPath := writeBinaryFile(t, dir, "nodes.bin", "nodes", buildNodePopulation("pop_e", 1, 0))
	nodes, err := NewNodeNetworkRecord(NewGobBackend(), []string{nodesPath})
	require.NoError(t, err)

	err = WriteTrace(filepath.Join(dir, "bad.bin"), nodes, "pop_e",
		[]int{0}, []int{0, 1}, []float64{0.1}, []float64{0.0}, [][]float64{{1}})
	require.Error(t, err)
	require.True(t, IsKind(err, SchemaViolation))
}
