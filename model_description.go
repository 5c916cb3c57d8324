package sonatacore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/arborsim/sonatacore/morph"
)

// Network bundles the binary/text stores and catalogs needed to answer
// per-gid queries: the node and edge NetworkRecords, their backing text
// tables, and the resolved catalogs built from them. Constructed once by
// OpenNetwork and immutable thereafter.
type Network struct {
	Nodes     *NetworkRecord
	Edges     *NetworkRecord
	NodeTypes *RecordStore
	EdgeTypes *RecordStore
	NodeCat   *NodeCatalog
	EdgeCat   *EdgeCatalog

	// MorphLoader resolves per-node morphology override paths. Nil means
	// the default SWC loader.
	MorphLoader morph.Loader
}

func (n *Network) morphLoader() morph.Loader {
	if n.MorphLoader != nil {
		return n.MorphLoader
	}
	return morph.SWCLoader{}
}

// SourceSite is an axon/dendrite location that fires a spike when
// transmembrane voltage crosses Threshold.
type SourceSite struct {
	Section   int
	Position  float64
	Threshold float64
}

func sourceLess(a, b SourceSite) bool {
	if a.Section != b.Section {
		return a.Section < b.Section
	}
	return a.Position < b.Position
}

func sourceEqualKey(a, b SourceSite) bool {
	return a.Section == b.Section && a.Position == b.Position
}

// TargetSite is a postsynaptic location carrying a fully-resolved point
// mechanism.
type TargetSite struct {
	Section  int
	Position float64
	Synapse  MechInstance
}

// GidLid addresses a source or target site by its owning cell and its
// position within that cell's sorted vector.
type GidLid struct {
	Gid int
	Lid int
}

// Connection is a resolved, directed, weighted-and-delayed synapse.
type Connection struct {
	Source GidLid
	Target GidLid
	Weight float64
	Delay  float64
}

// GidGroup is one (cell_kind, gid_list) assignment handed to
// BuildLocalMaps by the external partitioner.
type GidGroup struct {
	Kind CellKind
	Gids []int
}

type targetEntry struct {
	Site   TargetSite
	EdgeID int
}

// ModelDescription is the cell-centric query surface: morphology, density
// mechanisms, local source/target lists, and incoming connections. It owns
// the per-rank source/target index maps and is immutable once built.
type ModelDescription struct {
	net *Network

	mu         sync.RWMutex
	built      bool
	sourceMaps map[int][]SourceSite
	targetMaps map[int][]targetEntry
}

// NewModelDescription constructs an unbuilt ModelDescription over net.
func NewModelDescription(net *Network) *ModelDescription {
	return &ModelDescription{net: net}
}

// BuildLocalMaps collects source and target sites for every local
// cable-cell gid, then performs a single all-ranks gather to materialize
// globally-consistent source maps. When invoked with a single caller (no
// distributed runtime), the gather is the identity operation.
func (m *ModelDescription) BuildLocalMaps(ctx context.Context, localGroups []GidGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.built {
		return NewMapConsistencyError("BuildLocalMaps called more than once")
	}

	localTargets := make(map[int][]targetEntry)
	var contribGids []int
	var contribCounts []int
	var contribSources [][]SourceSite

	for _, group := range localGroups {
		if group.Kind != CellCable {
			continue
		}
		for _, gid := range group.Gids {
			sources, targets, err := m.collectLocal(gid)
			if err != nil {
				return err
			}
			contribGids = append(contribGids, gid)
			contribCounts = append(contribCounts, len(sources))
			contribSources = append(contribSources, sources)
			localTargets[gid] = targets
		}
	}

	merged, err := Gather(ctx, []RankContribution{{Gids: contribGids, Counts: contribCounts, Sources: contribSources}})
	if err != nil {
		return err
	}

	m.sourceMaps = merged
	m.targetMaps = localTargets
	m.built = true
	return nil
}

func (m *ModelDescription) collectLocal(gid int) ([]SourceSite, []targetEntry, error) {
	popName, localIndex, err := m.net.Nodes.Localize(gid)
	if err != nil {
		return nil, nil, err
	}

	var sources []SourceSite
	for edgePop := range m.net.EdgeCat.EdgesOfSource(popName) {
		pop, ok := m.net.Edges.Population(edgePop)
		if !ok {
			continue
		}
		dir, err := directionGroup(pop.Group, "source_to_target")
		if err != nil {
			return nil, nil, err
		}
		ranges, err := nodeIDRanges(dir, localIndex)
		if err != nil {
			return nil, nil, err
		}
		for _, rng := range ranges {
			edgeRange, err := rangeToEdgeID(dir, rng)
			if err != nil {
				return nil, nil, err
			}
			for _, er := range edgeRange {
				sites, _, _, _, _, err := m.resolveEdgeAttributesRange(edgePop, er[0], er[1])
				if err != nil {
					return nil, nil, err
				}
				sources = append(sources, sites...)
			}
		}
	}
	sources = dedupSources(sources)
	sort.Slice(sources, func(i, j int) bool { return sourceLess(sources[i], sources[j]) })

	var targets []targetEntry
	for edgePop := range m.net.EdgeCat.EdgesOfTarget(popName) {
		pop, ok := m.net.Edges.Population(edgePop)
		if !ok {
			continue
		}
		dir, err := directionGroup(pop.Group, "target_to_source")
		if err != nil {
			return nil, nil, err
		}
		ranges, err := nodeIDRanges(dir, localIndex)
		if err != nil {
			return nil, nil, err
		}
		for _, rng := range ranges {
			edgeRange, err := rangeToEdgeID(dir, rng)
			if err != nil {
				return nil, nil, err
			}
			for _, er := range edgeRange {
				_, sites, _, _, _, err := m.resolveEdgeAttributesRange(edgePop, er[0], er[1])
				if err != nil {
					return nil, nil, err
				}
				for i, site := range sites {
					edgeID, err := m.net.Edges.Globalize(edgePop, er[0]+i)
					if err != nil {
						return nil, nil, err
					}
					targets = append(targets, targetEntry{Site: site, EdgeID: edgeID})
				}
			}
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].EdgeID < targets[j].EdgeID })

	return sources, targets, nil
}

// dedupSources collapses duplicates on (section, position), keeping the
// first occurrence, so the sorted result is strictly increasing under
// sourceLess.
func dedupSources(in []SourceSite) []SourceSite {
	type key struct {
		section  int
		position float64
	}
	seen := make(map[key]bool, len(in))
	out := make([]SourceSite, 0, len(in))
	for _, s := range in {
		k := key{section: s.Section, position: s.Position}
		if !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

// directionGroup resolves one of the two index direction sub-groups
// (source_to_target or target_to_source) beneath an edge population's
// indicies group. Both node_id_to_ranges and range_to_edge_id reads must go
// through the same direction the traversal started from.
func directionGroup(pop *Group, direction string) (*Group, error) {
	idx, err := pop.findIndexSubgroup()
	if err != nil {
		return nil, err
	}
	dir, ok := idx.ChildByName(direction)
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("edge population %q missing indicies.%s", pop.Name(), direction))
	}
	return dir, nil
}

func nodeIDRanges(dir *Group, localIndex int) ([][2]int, error) {
	pair, err := dir.IntPairAt("node_id_to_ranges", localIndex)
	if err != nil {
		return nil, err
	}
	if pair[0] >= pair[1] {
		return nil, nil
	}
	return [][2]int{pair}, nil
}

func rangeToEdgeID(dir *Group, nodeRange [2]int) ([][2]int, error) {
	var out [][2]int
	for j := nodeRange[0]; j < nodeRange[1]; j++ {
		pair, err := dir.IntPairAt("range_to_edge_id", j)
		if err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, nil
}

// resolveEdgeAttributesRange resolves the half-open edge offset range
// [e0,e1) within edgePop into parallel SourceSite/TargetSite/weight/delay
// arrays, taking each field from the per-edge group first and the edge
// type row second.
func (m *ModelDescription) resolveEdgeAttributesRange(edgePop string, e0, e1 int) ([]SourceSite, []TargetSite, []float64, []float64, []int, error) {
	pop, ok := m.net.Edges.Population(edgePop)
	if !ok {
		return nil, nil, nil, nil, nil, NewSchemaViolationError(fmt.Sprintf("unknown edge population %q", edgePop))
	}
	g := pop.Group

	var sources []SourceSite
	var targets []TargetSite
	var weights, delays []float64
	var sourceNodeIDs []int

	for k := e0; k < e1; k++ {
		typeID, err := g.IntAt("edge_type_id", k)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		typeRow := TypePopId{TypeTag: uint32(typeID), PopName: edgePop}

		var edgeGroup *Group
		groupIndex := k
		if gid, err := g.IntAt("edge_group_id", k); err == nil {
			if sg, ok := g.ChildByName(strconv.Itoa(gid)); ok {
				edgeGroup = sg
				if gi, err := g.IntAt("edge_group_index", k); err == nil {
					groupIndex = gi
				}
			}
		}

		afferentSecID, err := m.resolveEdgeIntField(edgeGroup, groupIndex, typeRow, "afferent_section_id", "Afferent Section ID missing")
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		afferentSecPos, err := m.resolveEdgeFloatField(edgeGroup, groupIndex, typeRow, "afferent_section_pos", "Afferent Section Position missing")
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		efferentSecID, err := m.resolveEdgeIntField(edgeGroup, groupIndex, typeRow, "efferent_section_id", "Efferent Section ID missing")
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		efferentSecPos, err := m.resolveEdgeFloatField(edgeGroup, groupIndex, typeRow, "efferent_section_pos", "Efferent Section Position missing")
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		// Threshold is the one optional site field: an edge with no per-edge
		// and no per-type threshold gets NaN, and the recipe substitutes the
		// run-level spike threshold when attaching the detector.
		threshold, ok, err := m.resolveOptionalEdgeFloatField(edgeGroup, groupIndex, typeRow, "threshold")
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		if !ok {
			threshold = math.NaN()
		}
		weight, err := m.resolveEdgeFloatField(edgeGroup, groupIndex, typeRow, "syn_weight", "Synapse weight missing")
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		delay, err := m.resolveEdgeFloatField(edgeGroup, groupIndex, typeRow, "delay", "Delay missing")
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}

		template := m.net.EdgeCat.entries[typeRow]
		if template == nil {
			return nil, nil, nil, nil, nil, NewSchemaViolationError(fmt.Sprintf("unknown edge type %s", typeRow))
		}
		mechName := template.ModelTemplate
		if edgeGroup != nil {
			if i := edgeGroup.FindDataset("model_template"); i >= 0 {
				if s, err := edgeGroup.StringAt("model_template", groupIndex); err == nil {
					mechName = s
				}
			}
		}
		synapse := template.PointMech.clone()
		if synapse.Name != mechName {
			synapse = MechInstance{Name: mechName, Params: map[string]float64{}}
		}
		if edgeGroup != nil {
			// Overlay every parameter the mechanism declares, not just the
			// seeded ones; the dynamics_params sub-group wins over a dataset
			// at the group level.
			paramSource := edgeGroup
			if dp, ok := edgeGroup.ChildByName("dynamics_params"); ok {
				paramSource = dp
			}
			for _, param := range knownMechParams(synapse.Name, synapse.Params) {
				src := paramSource
				if src.FindDataset(param) < 0 {
					src = edgeGroup
				}
				if src.FindDataset(param) < 0 {
					continue
				}
				if v, err := src.FloatAt(param, groupIndex); err == nil {
					synapse.Params[param] = v
				}
			}
		}

		sourceID, err := g.IntAt("source_node_id", k)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}

		sources = append(sources, SourceSite{Section: efferentSecID, Position: efferentSecPos, Threshold: threshold})
		targets = append(targets, TargetSite{Section: afferentSecID, Position: afferentSecPos, Synapse: synapse})
		weights = append(weights, weight)
		delays = append(delays, delay)
		sourceNodeIDs = append(sourceNodeIDs, sourceID)
	}

	return sources, targets, weights, delays, sourceNodeIDs, nil
}

func (m *ModelDescription) resolveEdgeIntField(edgeGroup *Group, index int, typeRow TypePopId, field, missingMsg string) (int, error) {
	if edgeGroup != nil {
		if i := edgeGroup.FindDataset(field); i >= 0 {
			if v, err := edgeGroup.IntAt(field, index); err == nil {
				return v, nil
			}
		}
	}
	v, ok, err := m.net.EdgeCat.Field(typeRow, field)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, NewSchemaViolationError(missingMsg)
	}
	n, convErr := strconv.Atoi(v)
	if convErr != nil {
		return 0, NewSchemaViolationError(missingMsg)
	}
	return n, nil
}

func (m *ModelDescription) resolveEdgeFloatField(edgeGroup *Group, index int, typeRow TypePopId, field, missingMsg string) (float64, error) {
	v, ok, err := m.resolveOptionalEdgeFloatField(edgeGroup, index, typeRow, field)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, NewSchemaViolationError(missingMsg)
	}
	return v, nil
}

// resolveOptionalEdgeFloatField is resolveEdgeFloatField without the
// missing-field failure: ok is false when neither the per-edge group nor
// the type row sets the field.
func (m *ModelDescription) resolveOptionalEdgeFloatField(edgeGroup *Group, index int, typeRow TypePopId, field string) (float64, bool, error) {
	if edgeGroup != nil {
		if i := edgeGroup.FindDataset(field); i >= 0 {
			if v, err := edgeGroup.FloatAt(field, index); err == nil {
				return v, true, nil
			}
		}
	}
	v, ok, err := m.net.EdgeCat.Field(typeRow, field)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	f, convErr := strconv.ParseFloat(v, 64)
	if convErr != nil {
		return 0, false, nil
	}
	return f, true, nil
}

// NumSources returns |source_maps[gid]|.
func (m *ModelDescription) NumSources(gid int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.built {
		return 0, NewMapConsistencyError("NumSources called before BuildLocalMaps")
	}
	return len(m.sourceMaps[gid]), nil
}

// NumTargets returns |target_maps[gid]|.
func (m *ModelDescription) NumTargets(gid int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.built {
		return 0, NewMapConsistencyError("NumTargets called before BuildLocalMaps")
	}
	return len(m.targetMaps[gid]), nil
}

// SourceSites returns the sorted source-site vector for gid.
func (m *ModelDescription) SourceSites(gid int) ([]SourceSite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.built {
		return nil, NewMapConsistencyError("SourceSites called before BuildLocalMaps")
	}
	return m.sourceMaps[gid], nil
}

// TargetSites returns the sorted target-site vector for gid.
func (m *ModelDescription) TargetSites(gid int) ([]TargetSite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.built {
		return nil, NewMapConsistencyError("TargetSites called before BuildLocalMaps")
	}
	out := make([]TargetSite, len(m.targetMaps[gid]))
	for i, e := range m.targetMaps[gid] {
		out[i] = e.Site
	}
	return out, nil
}

// ConnectionsOn returns every connection whose target is gid.
func (m *ModelDescription) ConnectionsOn(gid int) ([]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.built {
		return nil, NewMapConsistencyError("ConnectionsOn called before BuildLocalMaps")
	}

	popName, localIndex, err := m.net.Nodes.Localize(gid)
	if err != nil {
		return nil, err
	}

	var conns []Connection
	for _, pair := range m.net.EdgeCat.EdgeToSourceOfTarget(popName) {
		pop, ok := m.net.Edges.Population(pair.EdgePop)
		if !ok {
			continue
		}
		dir, err := directionGroup(pop.Group, "target_to_source")
		if err != nil {
			return nil, err
		}
		ranges, err := nodeIDRanges(dir, localIndex)
		if err != nil {
			return nil, err
		}
		for _, rng := range ranges {
			edgeRanges, err := rangeToEdgeID(dir, rng)
			if err != nil {
				return nil, err
			}
			for _, er := range edgeRanges {
				sourceSites, _, weights, delays, sourceNodeIDs, err := m.resolveEdgeAttributesRange(pair.EdgePop, er[0], er[1])
				if err != nil {
					return nil, err
				}
				for i := range sourceSites {
					k := er[0] + i
					sourceGid, err := m.net.Nodes.Globalize(pair.SourcePop, sourceNodeIDs[i])
					if err != nil {
						return nil, err
					}
					srcLid, err := m.findSourceLid(sourceGid, sourceSites[i])
					if err != nil {
						return nil, err
					}
					edgeID, err := m.net.Edges.Globalize(pair.EdgePop, k)
					if err != nil {
						return nil, err
					}
					tgtLid, err := m.findTargetLid(gid, edgeID)
					if err != nil {
						return nil, err
					}
					conns = append(conns, Connection{
						Source: GidLid{Gid: sourceGid, Lid: srcLid},
						Target: GidLid{Gid: gid, Lid: tgtLid},
						Weight: weights[i],
						Delay:  delays[i],
					})
				}
			}
		}
	}
	return conns, nil
}

func (m *ModelDescription) findSourceLid(gid int, site SourceSite) (int, error) {
	sites := m.sourceMaps[gid]
	idx := sort.Search(len(sites), func(i int) bool {
		return !sourceLess(sites[i], site)
	})
	if idx < len(sites) && sourceEqualKey(sites[idx], site) {
		return idx, nil
	}
	return 0, NewMapConsistencyError(fmt.Sprintf("source maps initialized incorrectly: gid %d has no source matching section %d position %v", gid, site.Section, site.Position))
}

func (m *ModelDescription) findTargetLid(gid int, edgeID int) (int, error) {
	targets := m.targetMaps[gid]
	idx := sort.Search(len(targets), func(i int) bool { return targets[i].EdgeID >= edgeID })
	if idx < len(targets) && targets[idx].EdgeID == edgeID {
		return idx, nil
	}
	return 0, NewMapConsistencyError(fmt.Sprintf("target maps initialized incorrectly: gid %d has no target for edge %d", gid, edgeID))
}

// GetCellMorphology returns the per-node morphology override, if present,
// else the per-type catalog default.
func (m *ModelDescription) GetCellMorphology(gid int) (*morph.Tree, error) {
	popName, localIndex, err := m.net.Nodes.Localize(gid)
	if err != nil {
		return nil, err
	}
	pop, ok := m.net.Nodes.Population(popName)
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("unknown node population %q", popName))
	}

	nodeGroup, groupIndex, err := perNodeGroup(pop.Group, localIndex)
	if err == nil && nodeGroup != nil {
		if i := nodeGroup.FindDataset("morphology"); i >= 0 {
			path, err := nodeGroup.StringAt("morphology", groupIndex)
			if err == nil && path != "" {
				return m.net.morphLoader().Load(path)
			}
		}
	}

	typeID, err := pop.Group.IntAt("node_type_id", localIndex)
	if err != nil {
		return nil, err
	}
	return m.net.NodeCat.Morphology(TypePopId{TypeTag: uint32(typeID), PopName: popName})
}

// GetDensityMechs materializes the density mechanisms for gid: per-type
// free variables overlaid with any per-node
// dynamics_params/<group>.<variable> override.
func (m *ModelDescription) GetDensityMechs(gid int) (map[SectionKind][]MechInstance, error) {
	popName, localIndex, err := m.net.Nodes.Localize(gid)
	if err != nil {
		return nil, err
	}
	pop, ok := m.net.Nodes.Population(popName)
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("unknown node population %q", popName))
	}
	typeID, err := pop.Group.IntAt("node_type_id", localIndex)
	if err != nil {
		return nil, err
	}
	typeRow := TypePopId{TypeTag: uint32(typeID), PopName: popName}

	overrides, err := m.net.NodeCat.DynamicParams(typeRow)
	if err != nil {
		return nil, err
	}

	nodeGroup, groupIndex, err := perNodeGroup(pop.Group, localIndex)
	if err == nil && nodeGroup != nil {
		if dpGroup, ok := nodeGroup.ChildByName("dynamics_params"); ok {
			for groupName, vars := range overrides {
				for varName := range vars {
					dsName := groupName + "." + varName
					if i := dpGroup.FindDataset(dsName); i >= 0 {
						if v, err := dpGroup.FloatAt(dsName, groupIndex); err == nil {
							overrides[groupName][varName] = v
						}
					}
				}
			}
		}
	}

	return m.net.NodeCat.DensityMechDesc(typeRow, overrides)
}

func perNodeGroup(pop *Group, localIndex int) (*Group, int, error) {
	groupID, err := pop.IntAt("node_group_id", localIndex)
	if err != nil {
		return nil, 0, err
	}
	sg, ok := pop.ChildByName(strconv.Itoa(groupID))
	if !ok {
		return nil, 0, nil
	}
	groupIndex, err := pop.IntAt("node_group_index", localIndex)
	if err != nil {
		return nil, 0, err
	}
	return sg, groupIndex, nil
}
