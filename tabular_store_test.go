package sonatacore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupTypedReads(t *testing.T) {
	raw := rawGroup{
		Name: "pop_e",
		Datasets: []rawDataset{
			{Name: "node_type_id", Ints: []int{0, 0, 1}},
			{Name: "scalar_field", Floats: []float64{1.5, 2.5, 3.5}},
			{Name: "names", Strings: []string{"a", "b", "c"}},
			{Name: "pairs", Ints: []int{10, 11, 20, 21}},
		},
	}
	g := newGroup(&raw)

	require.Equal(t, "pop_e", g.Name())

	size, err := g.DatasetSize("node_type_id")
	require.NoError(t, err)
	require.Equal(t, 3, size)

	v, err := g.IntAt("node_type_id", 2)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	f, err := g.FloatAt("scalar_field", 1)
	require.NoError(t, err)
	require.Equal(t, 2.5, f)

	s, err := g.StringAt("names", 0)
	require.NoError(t, err)
	require.Equal(t, "a", s)

	pair, err := g.IntPairAt("pairs", 1)
	require.NoError(t, err)
	require.Equal(t, [2]int{20, 21}, pair)

	rng, err := g.IntRange("node_type_id", 0, 2)
	require.NoError(t, err)
	require.Equal(t, []int{0, 0}, rng)
}

func TestGroupOutOfRangeFailsWithDatasetAccess(t *testing.T) {
	raw := rawGroup{Name: "pop", Datasets: []rawDataset{{Name: "x", Ints: []int{1, 2, 3}}}}
	g := newGroup(&raw)

	_, err := g.IntAt("x", 5)
	require.Error(t, err)
	require.True(t, IsKind(err, DatasetAccess))

	_, err = g.IntAt("missing", 0)
	require.Error(t, err)
	require.True(t, IsKind(err, DatasetAccess))
}

func TestFindIndexSubgroupAcceptsLegacySpelling(t *testing.T) {
	withModern := newGroup(&rawGroup{Name: "e1", Groups: []rawGroup{{Name: "indicies"}}})
	sg, err := withModern.findIndexSubgroup()
	require.NoError(t, err)
	require.Equal(t, "indicies", sg.Name())

	withLegacy := newGroup(&rawGroup{Name: "e2", Groups: []rawGroup{{Name: "indices"}}})
	sg, err = withLegacy.findIndexSubgroup()
	require.NoError(t, err)
	require.Equal(t, "indices", sg.Name())

	neither := newGroup(&rawGroup{Name: "e3"})
	_, err = neither.findIndexSubgroup()
	require.Error(t, err)
	require.True(t, IsKind(err, SchemaViolation))
}

func TestLoadPopulationGroupsDiscoversChildrenOfSingleContainer(t *testing.T) {
	dir := t.TempDir()
	path := writeBinaryFile(t, dir, "nodes.bin", "nodes",
		buildNodePopulation("pop_e", 4, 0),
		buildNodePopulation("pop_i", 1, 0),
	)

	pops, err := loadPopulationGroups(NewGobBackend(), []string{path})
	require.NoError(t, err)
	require.Len(t, pops, 2)
	names := []string{pops[0].Name(), pops[1].Name()}
	require.ElementsMatch(t, []string{"pop_e", "pop_i"}, names)
}

func TestLoadPopulationGroupsRejectsMultipleTopLevelContainers(t *testing.T) {
	path := t.TempDir() + "/bad.bin"
	root := rawGroup{Name: "root", Groups: []rawGroup{{Name: "a"}, {Name: "b"}}}
	require.NoError(t, WriteGobFile(path, &root))

	_, err := loadPopulationGroups(NewGobBackend(), []string{path})
	require.Error(t, err)
	require.True(t, IsKind(err, SchemaViolation))
}
