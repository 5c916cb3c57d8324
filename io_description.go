package sonatacore

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// SpikeTableSource names one spike input file and the node population its
// gids belong to.
type SpikeTableSource struct {
	Path       string
	Population string
}

// BuildSpikeInputs assembles per-gid spike trains: for every input whose
// population matches, slice gid_to_range[local_index] out of timestamps,
// concatenate across inputs sharing a gid, and sort ascending.
func BuildSpikeInputs(nodes *NetworkRecord, backend Backend, tables []SpikeTableSource) (map[int][]float64, error) {
	out := make(map[int][]float64)
	for _, table := range tables {
		groups, err := loadPopulationGroups(backend, []string{table.Path})
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if g.Name() != table.Population {
				continue
			}
			spikes, ok := g.ChildByName("spikes")
			if !ok {
				continue
			}
			size, err := spikes.DatasetSize("gid_to_range")
			if err != nil {
				return nil, err
			}
			rows := size / 2
			for local := 0; local < rows; local++ {
				rng, err := spikes.IntPairAt("gid_to_range", local)
				if err != nil {
					return nil, err
				}
				if rng[0] >= rng[1] {
					continue
				}
				ts, err := spikes.FloatRange("timestamps", rng[0], rng[1])
				if err != nil {
					return nil, err
				}
				gid, err := nodes.Globalize(table.Population, local)
				if err != nil {
					return nil, err
				}
				out[gid] = append(out[gid], ts...)
			}
		}
	}
	for gid := range out {
		sort.Float64s(out[gid])
	}
	return out, nil
}

// CurrentClamp is one resolved current-clamp stimulus.
type CurrentClamp struct {
	Duration  float64
	Amplitude float64
	Delay     float64
	Section   int
	Position  float64
}

// BuildCurrentClamps joins the electrode and location text tables on
// electrode_id. A location row with no matching electrode row fails with
// SchemaViolation.
func BuildCurrentClamps(nodes *NetworkRecord, electrodePath, locationPath string) (map[int][]CurrentClamp, error) {
	electrodeRows, err := readSpaceTable(electrodePath)
	if err != nil {
		return nil, err
	}
	locationRows, err := readSpaceTable(locationPath)
	if err != nil {
		return nil, err
	}

	type electrodeParams struct {
		Dur, Amp, Delay float64
	}
	electrodes := make(map[string]electrodeParams, len(electrodeRows))
	for _, row := range electrodeRows {
		id, ok := row["electrode_id"]
		if !ok {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: missing electrode_id column", electrodePath))
		}
		dur, err := strconv.ParseFloat(row["dur"], 64)
		if err != nil {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: non-numeric dur for electrode %q", electrodePath, id))
		}
		amp, err := strconv.ParseFloat(row["amp"], 64)
		if err != nil {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: non-numeric amp for electrode %q", electrodePath, id))
		}
		delay, err := strconv.ParseFloat(row["delay"], 64)
		if err != nil {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: non-numeric delay for electrode %q", electrodePath, id))
		}
		electrodes[id] = electrodeParams{Dur: dur, Amp: amp, Delay: delay}
	}

	out := make(map[int][]CurrentClamp)
	for _, row := range locationRows {
		id, ok := row["electrode_id"]
		if !ok {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: missing electrode_id column", locationPath))
		}
		params, ok := electrodes[id]
		if !ok {
			return nil, NewSchemaViolationError(fmt.Sprintf("current clamp location electrode_id %q has no matching parameter record", id))
		}
		nodeID, err := strconv.Atoi(row["node_id"])
		if err != nil {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: non-numeric node_id %q", locationPath, row["node_id"]))
		}
		secID, err := strconv.Atoi(row["sec_id"])
		if err != nil {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: non-numeric sec_id %q", locationPath, row["sec_id"]))
		}
		segX, err := strconv.ParseFloat(row["seg_x"], 64)
		if err != nil {
			return nil, NewSchemaViolationError(fmt.Sprintf("table %q: non-numeric seg_x %q", locationPath, row["seg_x"]))
		}
		gid, err := nodes.Globalize(row["population"], nodeID)
		if err != nil {
			return nil, err
		}
		out[gid] = append(out[gid], CurrentClamp{
			Duration:  params.Dur,
			Amplitude: params.Amp,
			Delay:     params.Delay,
			Section:   secID,
			Position:  segX,
		})
	}
	return out, nil
}

func readSpaceTable(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ' '
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}
	if len(rows) == 0 {
		return nil, NewSchemaViolationError(fmt.Sprintf("table %q: empty file", path))
	}

	header := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		values := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				values[h] = row[i]
			}
		}
		out = append(out, values)
	}
	return out, nil
}

// ProbeKind is the recorded variable: membrane voltage or transmembrane
// current.
type ProbeKind string

const (
	ProbeVoltage ProbeKind = "v"
	ProbeCurrent ProbeKind = "i"
)

// ProbeDescriptor is one requested recording site, as configured. An empty
// NodeIDs means every node in Population.
type ProbeDescriptor struct {
	Kind       ProbeKind
	Population string
	NodeIDs    []int
	Section    int
	Position   float64
	File       string
}

// ProbeTraceInfo is the per-probe metadata stored alongside its dense
// index.
type ProbeTraceInfo struct {
	Kind     ProbeKind
	Section  int
	Position float64
	File     string
}

// ProbeGroupEntry is one (gid, index) pair recorded to the same output
// file.
type ProbeGroupEntry struct {
	Gid   int
	Index int
}

// IODescription is the immutable, built-once bundle of spike inputs,
// current clamps, and probe indices a recipe query consults per gid.
type IODescription struct {
	Spikes      map[int][]float64
	Clamps      map[int][]CurrentClamp
	probeMap    map[int][]ProbeTraceInfo
	probeGroups map[string][]ProbeGroupEntry
}

// BuildProbeIndices assigns each probe a dense per-gid index starting at 0
// (its position within probeMap[gid]) and populates both the per-gid probe
// map and the per-file probe groups. Pass every probe of popName in one
// call; the dense index only counts probes seen by this invocation.
func BuildProbeIndices(nodes *NetworkRecord, popName string, probes []ProbeDescriptor) (map[int][]ProbeTraceInfo, map[string][]ProbeGroupEntry, error) {
	probeMap := make(map[int][]ProbeTraceInfo)
	probeGroups := make(map[string][]ProbeGroupEntry)

	pop, ok := nodes.Population(popName)
	if !ok {
		return nil, nil, NewSchemaViolationError(fmt.Sprintf("unknown node population %q", popName))
	}

	for _, p := range probes {
		if p.Population != popName {
			continue
		}
		ids := p.NodeIDs
		if len(ids) == 0 {
			size, err := pop.Group.DatasetSize("node_type_id")
			if err != nil {
				return nil, nil, err
			}
			ids = make([]int, size)
			for i := range ids {
				ids[i] = i
			}
		}
		info := ProbeTraceInfo{Kind: p.Kind, Section: p.Section, Position: p.Position, File: p.File}
		for _, localID := range ids {
			gid, err := nodes.Globalize(popName, localID)
			if err != nil {
				return nil, nil, err
			}
			index := len(probeMap[gid])
			probeMap[gid] = append(probeMap[gid], info)
			probeGroups[p.File] = append(probeGroups[p.File], ProbeGroupEntry{Gid: gid, Index: index})
		}
	}
	return probeMap, probeGroups, nil
}

// NewIODescription assembles the full bundle.
func NewIODescription(spikes map[int][]float64, clamps map[int][]CurrentClamp, probeMap map[int][]ProbeTraceInfo, probeGroups map[string][]ProbeGroupEntry) *IODescription {
	return &IODescription{Spikes: spikes, Clamps: clamps, probeMap: probeMap, probeGroups: probeGroups}
}

// NumProbes returns the number of probes attached to gid.
func (io *IODescription) NumProbes(gid int) int {
	return len(io.probeMap[gid])
}

// Probes returns the probe trace infos attached to gid, in assignment order.
func (io *IODescription) Probes(gid int) []ProbeTraceInfo {
	return io.probeMap[gid]
}

// ProbeGroup returns the (gid, index) pairs recorded to file.
func (io *IODescription) ProbeGroup(file string) []ProbeGroupEntry {
	return io.probeGroups[file]
}
