package sonatacore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arborsim/sonatacore/morph"
)

func TestSaveAndLoadCatalogCacheRoundTrips(t *testing.T) {
	dir := t.TempDir()

	swcPath := filepath.Join(dir, "cell.swc")
	writeSWC(t, swcPath)
	templatePath := filepath.Join(dir, "template.json")
	writeDensityDoc(t, templatePath, densityDocFixture())

	nodeTypesPath := filepath.Join(dir, "node_types.csv")
	writeSpaceTable(t, nodeTypesPath,
		[]string{"node_type_id", "pop_name", "model_type", "morphology", "model_template"},
		[][]string{{"0", "pop_e", "biophysical", swcPath, templatePath}})
	nodeTypes, err := LoadRecordStore([]string{nodeTypesPath})
	require.NoError(t, err)
	nodeCat, err := NewNodeCatalog(nodeTypes, morph.SWCLoader{})
	require.NoError(t, err)

	edgeTypesPath := filepath.Join(dir, "edge_types.csv")
	writeSpaceTable(t, edgeTypesPath,
		[]string{"edge_type_id", "pop_name", "model_template", "threshold"},
		[][]string{{"0", "e_to_e", "expsyn", "-55.0"}})
	edgeTypes, err := LoadRecordStore([]string{edgeTypesPath})
	require.NoError(t, err)
	edgeCat, err := NewEdgeCatalog(edgeTypes)
	require.NoError(t, err)

	hash, err := CatalogSourceHash([]string{nodeTypesPath, edgeTypesPath, swcPath, templatePath})
	require.NoError(t, err)

	cachePath := filepath.Join(dir, "catalog.cache")
	require.NoError(t, SaveCatalogCache(cachePath, hash, nodeCat, edgeCat))

	loadedNodeCat, loadedEdgeCat, err := LoadCatalogCache(cachePath, hash)
	require.NoError(t, err)

	nodeID := TypePopId{TypeTag: 0, PopName: "pop_e"}
	kind, err := loadedNodeCat.CellKind(nodeID)
	require.NoError(t, err)
	require.Equal(t, CellCable, kind)

	desc, err := loadedNodeCat.DensityMechDesc(nodeID, nil)
	require.NoError(t, err)
	require.Equal(t, -70.0, desc[SectionKind(morph.Dend)][0].Params["e"])

	edgeID := TypePopId{TypeTag: 0, PopName: "e_to_e"}

	// A field set on the type row must still report present after a cache
	// round-trip, and a field never set must still report absent rather
	// than a silent zero.
	v, ok, err := loadedEdgeCat.Field(edgeID, "threshold")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "-55", v)

	_, ok, err = loadedEdgeCat.Field(edgeID, "syn_weight")
	require.NoError(t, err)
	require.False(t, ok, "syn_weight was never set on the type row and must survive the cache round-trip as absent")

	mech, err := loadedEdgeCat.PointMechDesc(edgeID)
	require.NoError(t, err)
	require.Equal(t, "expsyn", mech.Name)

	// A hash that no longer matches the stored one means the sources
	// changed; the cache must be refused, not served stale.
	_, _, err = LoadCatalogCache(cachePath, "different-hash")
	require.Error(t, err)
}

func TestLoadCatalogCacheMissingFileFails(t *testing.T) {
	_, _, err := LoadCatalogCache("/no/such/cache", "any")
	require.Error(t, err)
	require.True(t, IsKind(err, FileOpen))
}

func TestCatalogSourceHashChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "types.csv")
	writeSpaceTable(t, path, []string{"node_type_id", "pop_name", "model_type"},
		[][]string{{"0", "pop_e", "virtual"}})

	before, err := CatalogSourceHash([]string{path})
	require.NoError(t, err)

	writeSpaceTable(t, path, []string{"node_type_id", "pop_name", "model_type"},
		[][]string{{"0", "pop_e", "biophysical"}})
	after, err := CatalogSourceHash([]string{path})
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	_, err = CatalogSourceHash([]string{filepath.Join(dir, "missing.csv")})
	require.Error(t, err)
	require.True(t, IsKind(err, FileOpen))
}
