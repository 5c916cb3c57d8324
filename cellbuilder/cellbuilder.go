// Package cellbuilder defines the hand-off contract between the network
// description layer and whatever cable-cell simulator ultimately
// instantiates a cell. Building an actual simulator cell from a morphology
// and a mechanism list is outside this module's scope; CellBuilder is the
// seam a real implementation plugs into, with ReferenceBuilder standing in
// for one.
package cellbuilder

import "github.com/arborsim/sonatacore/morph"

// MechanismInstance is a named mechanism with its resolved parameters,
// independent of whether it sits at a density placement or a synapse site.
type MechanismInstance struct {
	Name   string
	Params map[string]float64
}

// Detector is a spike-detecting source site.
type Detector struct {
	Section   int
	Position  float64
	Threshold float64
}

// Synapse is a postsynaptic target site carrying its point mechanism.
type Synapse struct {
	Section   int
	Position  float64
	Mechanism MechanismInstance
}

// Stimulus is a current-clamp attached to a cell.
type Stimulus struct {
	Duration  float64
	Amplitude float64
	Delay     float64
	Section   int
	Position  float64
}

// CellAssembly is everything a cable cell needs: morphology, density
// mechanisms by section kind, detector and synapse sites, and stimuli.
type CellAssembly struct {
	Gid          int
	Morphology   *morph.Tree
	DensityMechs map[morph.SectionKind][]MechanismInstance
	Detectors    []Detector
	Synapses     []Synapse
	Stimuli      []Stimulus
}

// SpikeSourceAssembly is the minimal hand-off for a virtual cell: a fixed
// spike schedule.
type SpikeSourceAssembly struct {
	Gid      int
	Schedule []float64
}

// CellBuilder turns assemblies into whatever type the host simulator uses
// to represent a runnable cell. The network description layer never
// inspects the return value; it only passes it back to the caller.
type CellBuilder interface {
	BuildCable(assembly CellAssembly) (interface{}, error)
	BuildSpikeSource(assembly SpikeSourceAssembly) (interface{}, error)
}

// ReferenceBuilder is the no-op CellBuilder used when no real simulator is
// wired in: it returns the assembly unchanged, verifying the hand-off
// contract without depending on a simulator package.
type ReferenceBuilder struct{}

func (ReferenceBuilder) BuildCable(assembly CellAssembly) (interface{}, error) {
	return assembly, nil
}

func (ReferenceBuilder) BuildSpikeSource(assembly SpikeSourceAssembly) (interface{}, error) {
	return assembly, nil
}
