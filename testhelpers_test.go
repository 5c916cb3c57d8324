package sonatacore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// pairsDataset builds a flattened 2-column integer dataset from row pairs,
// matching Group.IntPairAt's layout (row k occupies Ints[2k], Ints[2k+1]).
func pairsDataset(name string, pairs [][2]int) rawDataset {
	ints := make([]int, 0, 2*len(pairs))
	for _, p := range pairs {
		ints = append(ints, p[0], p[1])
	}
	return rawDataset{Name: name, Ints: ints}
}

// buildDirection builds one of indicies' two direction sub-groups: a
// node_id_to_ranges entry per node 0..numNodes-1, each pointing at a
// contiguous block of singleton (k,k+1) entries in range_to_edge_id
// covering every edge offset whose key(edge) equals that node.
func buildDirection(dirName string, edges [][2]int, numNodes int, key func([2]int) int) rawGroup {
	buckets := make([][]int, numNodes)
	for k, e := range edges {
		id := key(e)
		buckets[id] = append(buckets[id], k)
	}
	var rangeToEdge [][2]int
	nodeRanges := make([][2]int, numNodes)
	for id := 0; id < numNodes; id++ {
		r0 := len(rangeToEdge)
		for _, k := range buckets[id] {
			rangeToEdge = append(rangeToEdge, [2]int{k, k + 1})
		}
		r1 := len(rangeToEdge)
		if r1 == r0 {
			nodeRanges[id] = [2]int{0, 0}
		} else {
			nodeRanges[id] = [2]int{r0, r1}
		}
	}
	return rawGroup{
		Name: dirName,
		Datasets: []rawDataset{
			pairsDataset("node_id_to_ranges", nodeRanges),
			pairsDataset("range_to_edge_id", rangeToEdge),
		},
	}
}

// buildNodePopulation constructs a minimal node population group: a single
// node_type_id dataset, every row set to typeID.
func buildNodePopulation(name string, count, typeID int) rawGroup {
	ids := make([]int, count)
	for i := range ids {
		ids[i] = typeID
	}
	return rawGroup{Name: name, Datasets: []rawDataset{{Name: "node_type_id", Ints: ids}}}
}

// buildNodePopulationWithGroups is buildNodePopulation plus node_group_id
// (all groupID) / node_group_index (the row's own index) and one per-node
// sub-group named groupID, for tests exercising per-node overrides.
func buildNodePopulationWithGroups(name string, count, typeID, groupID int, perNodeGroup rawGroup) rawGroup {
	pop := buildNodePopulation(name, count, typeID)
	groupIDs := make([]int, count)
	groupIndex := make([]int, count)
	for i := range groupIDs {
		groupIDs[i] = groupID
		groupIndex[i] = i
	}
	pop.Datasets = append(pop.Datasets,
		rawDataset{Name: "node_group_id", Ints: groupIDs},
		rawDataset{Name: "node_group_index", Ints: groupIndex},
	)
	perNodeGroup.Name = itoa(groupID)
	pop.Groups = append(pop.Groups, perNodeGroup)
	return pop
}

// buildEdgePopulation constructs an edge population from a flat edge list
// (each entry (sourceLocalID, targetLocalID)), wiring up both directions of
// the indicies group.
func buildEdgePopulation(name string, edges [][2]int, typeID, numSrcNodes, numTgtNodes int) rawGroup {
	k := len(edges)
	typeIDs := make([]int, k)
	srcIDs := make([]int, k)
	tgtIDs := make([]int, k)
	for i, e := range edges {
		typeIDs[i] = typeID
		srcIDs[i] = e[0]
		tgtIDs[i] = e[1]
	}
	idx := rawGroup{
		Name: "indicies",
		Groups: []rawGroup{
			buildDirection("source_to_target", edges, numSrcNodes, func(e [2]int) int { return e[0] }),
			buildDirection("target_to_source", edges, numTgtNodes, func(e [2]int) int { return e[1] }),
		},
	}
	return rawGroup{
		Name: name,
		Datasets: []rawDataset{
			{Name: "edge_type_id", Ints: typeIDs},
			{Name: "source_node_id", Ints: srcIDs},
			{Name: "target_node_id", Ints: tgtIDs},
		},
		Groups: []rawGroup{idx},
	}
}

// withEdgeGroup attaches edge_group_id/edge_group_index (one group shared
// by every edge, each edge addressed by its own offset) and a per-edge
// sub-group carrying the given datasets, so a resolver test can exercise
// the per-edge override path ahead of the type-row fallback.
func withEdgeGroup(pop rawGroup, groupID int, perEdgeDatasets ...rawDataset) rawGroup {
	size := 0
	for _, d := range pop.Datasets {
		if d.Name == "edge_type_id" {
			size = d.size()
		}
	}
	groupIDs := make([]int, size)
	groupIndex := make([]int, size)
	for i := range groupIDs {
		groupIDs[i] = groupID
		groupIndex[i] = i
	}
	pop.Datasets = append(pop.Datasets,
		rawDataset{Name: "edge_group_id", Ints: groupIDs},
		rawDataset{Name: "edge_group_index", Ints: groupIndex},
	)
	pop.Groups = append(pop.Groups, rawGroup{Name: itoa(groupID), Datasets: perEdgeDatasets})
	return pop
}

// writeBinaryFile wraps pops under a single synthetic file-root/container
// pair, matching the population discovery rule (a file root with a single
// container child), and writes it via the gob backend.
func writeBinaryFile(t *testing.T, dir, filename, container string, pops ...rawGroup) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	root := rawGroup{Name: "root", Groups: []rawGroup{{Name: container, Groups: pops}}}
	require.NoError(t, WriteGobFile(path, &root))
	return path
}

// writeSpaceTable writes a space-delimited text table with a header row,
// the format record_store.go and io_description.go's readSpaceTable expect.
func writeSpaceTable(t *testing.T, path string, header []string, rows [][]string) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(strings.Join(header, " ") + "\n")
	for _, r := range rows {
		sb.WriteString(strings.Join(r, " ") + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

// writeSWC writes a minimal two-sample SWC morphology (one soma root, one
// dendrite child), enough to satisfy Tree.HasSoma().
func writeSWC(t *testing.T, path string) {
	t.Helper()
	content := "# id kind x y z r parent\n1 1 0 0 0 1.0 -1\n2 3 0 0 1 0.5 1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// densityGroupEntry is a convenience type for building the JSON body of a
// density-mechanism group in writeDensityDoc.
type densityGroupEntry = map[string]interface{}

// writeDensityDoc writes a density-mechanism base parameter document (the
// ParseDensityMechanismDoc shape: group name -> list of free-variable or
// placement entries).
func writeDensityDoc(t *testing.T, path string, doc map[string][]densityGroupEntry) {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

// writeOverrideDoc writes a density-override document (flat group ->
// {variable -> value}).
func writeOverrideDoc(t *testing.T, path string, doc map[string]map[string]float64) {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

// writePointMechDoc writes a point-mechanism document: exactly one
// top-level key naming the mechanism.
func writePointMechDoc(t *testing.T, path, mechName string, params map[string]float64) {
	t.Helper()
	doc := map[string]map[string]float64{mechName: params}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

// writeJSON marshals any value to path as JSON.
func writeJSON(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
