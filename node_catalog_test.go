package sonatacore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arborsim/sonatacore/morph"
)

func TestNodeCatalogVirtualCellSkipsMorphology(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "node_types.csv")
	writeSpaceTable(t, f, []string{"node_type_id", "pop_name", "model_type"},
		[][]string{{"0", "pop_in", "virtual"}})

	rs, err := LoadRecordStore([]string{f})
	require.NoError(t, err)

	cat, err := NewNodeCatalog(rs, morph.SWCLoader{})
	require.NoError(t, err)

	id := TypePopId{TypeTag: 0, PopName: "pop_in"}
	kind, err := cat.CellKind(id)
	require.NoError(t, err)
	require.Equal(t, CellSpikeSource, kind)

	_, err = cat.Morphology(id)
	require.Error(t, err)
	require.True(t, IsKind(err, SchemaViolation))
}

func TestNodeCatalogCableCellRequiresMorphology(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "node_types.csv")
	writeSpaceTable(t, f, []string{"node_type_id", "pop_name", "model_type", "model_template"},
		[][]string{{"0", "pop_e", "biophysical", "template.json"}})

	rs, err := LoadRecordStore([]string{f})
	require.NoError(t, err)

	_, err = NewNodeCatalog(rs, morph.SWCLoader{})
	require.Error(t, err)
	require.True(t, IsKind(err, SchemaViolation))
}

func TestNodeCatalogCableCellLoadsMorphologyAndDensityMech(t *testing.T) {
	dir := t.TempDir()
	swcPath := filepath.Join(dir, "cell.swc")
	writeSWC(t, swcPath)
	templatePath := filepath.Join(dir, "template.json")
	writeDensityDoc(t, templatePath, densityDocFixture())

	typesPath := filepath.Join(dir, "node_types.csv")
	writeSpaceTable(t, typesPath,
		[]string{"node_type_id", "pop_name", "model_type", "morphology", "model_template"},
		[][]string{{"0", "pop_e", "biophysical", swcPath, templatePath}})

	rs, err := LoadRecordStore([]string{typesPath})
	require.NoError(t, err)

	cat, err := NewNodeCatalog(rs, morph.SWCLoader{})
	require.NoError(t, err)

	id := TypePopId{TypeTag: 0, PopName: "pop_e"}
	kind, err := cat.CellKind(id)
	require.NoError(t, err)
	require.Equal(t, CellCable, kind)

	tree, err := cat.Morphology(id)
	require.NoError(t, err)
	require.True(t, tree.HasSoma())

	desc, err := cat.DensityMechDesc(id, nil)
	require.NoError(t, err)
	require.Len(t, desc[SectionKind(morph.Soma)], 1)
	require.Equal(t, "hh", desc[SectionKind(morph.Soma)][0].Name)
	require.Len(t, desc[SectionKind(morph.Dend)], 1)
	require.Equal(t, -70.0, desc[SectionKind(morph.Dend)][0].Params["e"])
}

func TestNodeCatalogAppliesTypeLevelDynamicsOverride(t *testing.T) {
	dir := t.TempDir()
	swcPath := filepath.Join(dir, "cell.swc")
	writeSWC(t, swcPath)
	templatePath := filepath.Join(dir, "template.json")
	writeDensityDoc(t, templatePath, densityDocFixture())
	overridePath := filepath.Join(dir, "override.json")
	writeOverrideDoc(t, overridePath, map[string]map[string]float64{
		"dend_group": {"e_pas_var": -80.0},
	})

	typesPath := filepath.Join(dir, "node_types.csv")
	writeSpaceTable(t, typesPath,
		[]string{"node_type_id", "pop_name", "model_type", "morphology", "model_template", "dynamics_params"},
		[][]string{{"0", "pop_e", "biophysical", swcPath, templatePath, overridePath}})

	rs, err := LoadRecordStore([]string{typesPath})
	require.NoError(t, err)

	cat, err := NewNodeCatalog(rs, morph.SWCLoader{})
	require.NoError(t, err)

	id := TypePopId{TypeTag: 0, PopName: "pop_e"}
	desc, err := cat.DensityMechDesc(id, nil)
	require.NoError(t, err)
	require.Equal(t, -80.0, desc[SectionKind(morph.Dend)][0].Params["e"])
}

func TestNodeCatalogOverrideDensityParamsMutatesInPlace(t *testing.T) {
	dir := t.TempDir()
	swcPath := filepath.Join(dir, "cell.swc")
	writeSWC(t, swcPath)
	templatePath := filepath.Join(dir, "template.json")
	writeDensityDoc(t, templatePath, densityDocFixture())

	typesPath := filepath.Join(dir, "node_types.csv")
	writeSpaceTable(t, typesPath,
		[]string{"node_type_id", "pop_name", "model_type", "morphology", "model_template"},
		[][]string{{"0", "pop_e", "biophysical", swcPath, templatePath}})

	rs, err := LoadRecordStore([]string{typesPath})
	require.NoError(t, err)
	cat, err := NewNodeCatalog(rs, morph.SWCLoader{})
	require.NoError(t, err)

	id := TypePopId{TypeTag: 0, PopName: "pop_e"}
	require.NoError(t, cat.OverrideDensityParams(id, map[string]VariableMap{
		"dend_group": {"e_pas_var": -90.0},
	}))

	desc, err := cat.DensityMechDesc(id, nil)
	require.NoError(t, err)
	require.Equal(t, -90.0, desc[SectionKind(morph.Dend)][0].Params["e"])
}
