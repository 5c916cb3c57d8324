package sonatacore

import (
	"fmt"
	"math"
	"sync"

	"github.com/arborsim/sonatacore/cellbuilder"
	"github.com/arborsim/sonatacore/morph"
)

// GlobalProperties are simulation-condition defaults every recipe exposes.
type GlobalProperties struct {
	TemperatureKelvin float64
	VInit             float64
}

// RecipeAdapter is the per-gid pull-query surface a host simulator drives.
// Every query that touches the model or IO description holds the same
// coarse mutex; morphology and mechanism resolution perform file I/O under
// it.
type RecipeAdapter struct {
	mu sync.Mutex

	net     *Network
	model   *ModelDescription
	io      *IODescription
	builder cellbuilder.CellBuilder

	// spikeThreshold is the detector threshold for source sites whose edge
	// resolved no per-edge or per-type threshold.
	spikeThreshold float64
	celsius        float64
	vInit          float64
}

// NewRecipeAdapter builds an adapter over an already-built ModelDescription
// and IODescription.
func NewRecipeAdapter(net *Network, model *ModelDescription, io *IODescription, builder cellbuilder.CellBuilder, spikeThreshold, celsius, vInit float64) *RecipeAdapter {
	return &RecipeAdapter{
		net:            net,
		model:          model,
		io:             io,
		builder:        builder,
		spikeThreshold: spikeThreshold,
		celsius:        celsius,
		vInit:          vInit,
	}
}

func (r *RecipeAdapter) typeRow(gid int) (TypePopId, int, string, error) {
	popName, localIndex, err := r.net.Nodes.Localize(gid)
	if err != nil {
		return TypePopId{}, 0, "", err
	}
	pop, ok := r.net.Nodes.Population(popName)
	if !ok {
		return TypePopId{}, 0, "", NewSchemaViolationError(fmt.Sprintf("unknown node population %q", popName))
	}
	typeID, err := pop.Group.IntAt("node_type_id", localIndex)
	if err != nil {
		return TypePopId{}, 0, "", err
	}
	return TypePopId{TypeTag: uint32(typeID), PopName: popName}, localIndex, popName, nil
}

// CellDescription assembles the per-gid bundle: for cable cells,
// morphology, density mechanisms, detector/synapse sites and stimuli,
// handed to the CellBuilder; for spike-source cells, the stored spike list
// wrapped in a schedule.
func (r *RecipeAdapter) CellDescription(gid int) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	typeRow, _, _, err := r.typeRow(gid)
	if err != nil {
		return nil, err
	}
	kind, err := r.net.NodeCat.CellKind(typeRow)
	if err != nil {
		return nil, err
	}

	if kind == CellSpikeSource {
		return r.builder.BuildSpikeSource(cellbuilder.SpikeSourceAssembly{
			Gid:      gid,
			Schedule: append([]float64(nil), r.io.Spikes[gid]...),
		})
	}

	tree, err := r.model.GetCellMorphology(gid)
	if err != nil {
		return nil, err
	}
	densityMechs, err := r.model.GetDensityMechs(gid)
	if err != nil {
		return nil, err
	}
	sources, err := r.model.SourceSites(gid)
	if err != nil {
		return nil, err
	}
	targets, err := r.model.TargetSites(gid)
	if err != nil {
		return nil, err
	}

	converted := make(map[morph.SectionKind][]cellbuilder.MechanismInstance, len(densityMechs))
	for section, insts := range densityMechs {
		out := make([]cellbuilder.MechanismInstance, len(insts))
		for i, inst := range insts {
			out[i] = cellbuilder.MechanismInstance{Name: inst.Name, Params: inst.Params}
		}
		converted[morph.SectionKind(section)] = out
	}

	detectors := make([]cellbuilder.Detector, len(sources))
	for i, s := range sources {
		threshold := s.Threshold
		if math.IsNaN(threshold) {
			threshold = r.spikeThreshold
		}
		detectors[i] = cellbuilder.Detector{Section: s.Section, Position: s.Position, Threshold: threshold}
	}

	synapses := make([]cellbuilder.Synapse, len(targets))
	for i, t := range targets {
		synapses[i] = cellbuilder.Synapse{
			Section:  t.Section,
			Position: t.Position,
			Mechanism: cellbuilder.MechanismInstance{
				Name:   t.Synapse.Name,
				Params: t.Synapse.Params,
			},
		}
	}

	stimuli := make([]cellbuilder.Stimulus, 0, len(r.io.Clamps[gid]))
	for _, clamp := range r.io.Clamps[gid] {
		stimuli = append(stimuli, cellbuilder.Stimulus{
			Duration:  clamp.Duration,
			Amplitude: clamp.Amplitude,
			Delay:     clamp.Delay,
			Section:   clamp.Section,
			Position:  clamp.Position,
		})
	}

	assembly := cellbuilder.CellAssembly{
		Gid:          gid,
		Morphology:   tree,
		DensityMechs: converted,
		Detectors:    detectors,
		Synapses:     synapses,
		Stimuli:      stimuli,
	}
	return r.builder.BuildCable(assembly)
}

// NumSources returns |source_maps[gid]|.
func (r *RecipeAdapter) NumSources(gid int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.NumSources(gid)
}

// NumTargets returns |target_maps[gid]|.
func (r *RecipeAdapter) NumTargets(gid int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.NumTargets(gid)
}

// ConnectionsOn returns every connection whose target is gid.
func (r *RecipeAdapter) ConnectionsOn(gid int) ([]Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.ConnectionsOn(gid)
}

// Probes returns the trace infos attached to gid.
func (r *RecipeAdapter) Probes(gid int) []ProbeTraceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.io.Probes(gid)
}

// GlobalProperties returns simulation-condition defaults: temperature
// converted from Celsius to Kelvin, and the initial membrane potential.
func (r *RecipeAdapter) GlobalProperties() GlobalProperties {
	return GlobalProperties{
		TemperatureKelvin: r.celsius + 273.15,
		VInit:             r.vInit,
	}
}
