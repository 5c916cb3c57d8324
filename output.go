package sonatacore

import (
	"fmt"
	"sort"
)

// WriteSpikes serializes spikesByGid to path as /spikes/<population>/
// {node_ids, timestamps}, rewriting every gid to its population-local
// index first. sortOrder must be "time" or "gid".
func WriteSpikes(path string, nodes *NetworkRecord, spikesByGid map[int][]float64, sortOrder string) error {
	if sortOrder != "time" && sortOrder != "gid" {
		return NewSchemaViolationError(fmt.Sprintf("WriteSpikes: invalid sort order %q, must be 'time' or 'gid'", sortOrder))
	}

	type event struct {
		localID   int
		timestamp float64
	}
	perPop := make(map[string][]event)

	for gid, timestamps := range spikesByGid {
		popName, localID, err := nodes.Localize(gid)
		if err != nil {
			return err
		}
		for _, t := range timestamps {
			perPop[popName] = append(perPop[popName], event{localID: localID, timestamp: t})
		}
	}

	spikesRoot := rawGroup{Name: "spikes"}
	for popName, events := range perPop {
		switch sortOrder {
		case "time":
			sort.SliceStable(events, func(i, j int) bool { return events[i].timestamp < events[j].timestamp })
		case "gid":
			sort.SliceStable(events, func(i, j int) bool { return events[i].localID < events[j].localID })
		}
		nodeIDs := make([]int, len(events))
		timestamps := make([]float64, len(events))
		for i, e := range events {
			nodeIDs[i] = e.localID
			timestamps[i] = e.timestamp
		}
		spikesRoot.Groups = append(spikesRoot.Groups, rawGroup{
			Name: popName,
			Datasets: []rawDataset{
				{Name: "node_ids", Ints: nodeIDs},
				{Name: "timestamps", Floats: timestamps},
			},
		})
	}

	root := rawGroup{Name: "root", Groups: []rawGroup{spikesRoot}}
	return WriteGobFile(path, &root)
}

// WriteTrace serializes one population's recorded traces to path as
// /reports/<population>/{data, mapping/{time, element_ids, element_pos,
// node_ids, index_pointers}}. gids, elementIDs, elementPos, and
// data must be the same length and grouped contiguously by node; data[i]
// is the full sample row for the i-th (gid, element) pair.
func WriteTrace(path string, nodes *NetworkRecord, population string, gids []int, elementIDs []int, elementPos []float64, timeVec []float64, data [][]float64) error {
	if len(gids) != len(elementIDs) || len(gids) != len(elementPos) || len(gids) != len(data) {
		return NewSchemaViolationError("WriteTrace: gids, element_ids, element_pos, and data must have equal length")
	}

	localIDs := make([]int, len(gids))
	for i, gid := range gids {
		popName, local, err := nodes.Localize(gid)
		if err != nil {
			return err
		}
		if popName != population {
			return NewSchemaViolationError(fmt.Sprintf("WriteTrace: gid %d does not belong to population %q", gid, population))
		}
		localIDs[i] = local
	}

	var nodeIDs []int
	var indexPointers []int
	for i := 0; i < len(localIDs); {
		id := localIDs[i]
		start := i
		for i < len(localIDs) && localIDs[i] == id {
			i++
		}
		nodeIDs = append(nodeIDs, id)
		indexPointers = append(indexPointers, start)
	}
	indexPointers = append(indexPointers, len(localIDs))

	numTraces := len(data)
	numSamples := 0
	if numTraces > 0 {
		numSamples = len(data[0])
	}
	flatData := make([]float64, 0, numTraces*numSamples)
	for _, row := range data {
		if len(row) != numSamples {
			return NewSchemaViolationError("WriteTrace: ragged data rows")
		}
		flatData = append(flatData, row...)
	}

	mapping := rawGroup{
		Name: "mapping",
		Datasets: []rawDataset{
			{Name: "time", Floats: timeVec},
			{Name: "element_ids", Ints: elementIDs},
			{Name: "element_pos", Floats: elementPos},
			{Name: "node_ids", Ints: nodeIDs},
			{Name: "index_pointers", Ints: indexPointers},
		},
	}
	popGroup := rawGroup{
		Name: population,
		Datasets: []rawDataset{
			{Name: "data", Floats: flatData},
			{Name: "shape", Ints: []int{numTraces, numSamples}},
		},
		Groups: []rawGroup{mapping},
	}
	root := rawGroup{Name: "root", Groups: []rawGroup{{Name: "reports", Groups: []rawGroup{popGroup}}}}
	return WriteGobFile(path, &root)
}
