package sonatacore

import "fmt"

// Population is a named group inside a binary file representing either a
// node or an edge population.
type Population struct {
	Name  string
	Group *Group
}

// NetworkRecord is an ordered list of populations, a lookup from population
// name to index, and a cumulative partition vector with Partition[0]==0.
// For the population at index i, the gid range is [Partition[i],
// Partition[i+1]).
type NetworkRecord struct {
	Populations []Population
	indexOf     map[string]int
	Partition   []int
	IsEdges     bool
}

// NewNodeNetworkRecord builds a NetworkRecord from node population groups,
// verifying the node invariants: node_type_id exists, node_id does not
// (node ids are implicit row positions).
func NewNodeNetworkRecord(backend Backend, paths []string) (*NetworkRecord, error) {
	groups, err := loadPopulationGroups(backend, paths)
	if err != nil {
		return nil, err
	}
	nr, err := newNetworkRecord(groups, false)
	if err != nil {
		return nil, err
	}
	for _, pop := range nr.Populations {
		if pop.Group.FindDataset("node_type_id") < 0 {
			return nil, NewSchemaViolationError(fmt.Sprintf("node population %q missing node_type_id", pop.Name))
		}
		if pop.Group.FindDataset("node_id") >= 0 {
			return nil, NewSchemaViolationError(fmt.Sprintf("node population %q carries forbidden explicit node_id dataset", pop.Name))
		}
	}
	return nr, nil
}

// NewEdgeNetworkRecord builds a NetworkRecord from edge population groups,
// verifying the edge invariants: edge_type_id and the indicies sub-group
// exist, edge_id does not.
func NewEdgeNetworkRecord(backend Backend, paths []string) (*NetworkRecord, error) {
	groups, err := loadPopulationGroups(backend, paths)
	if err != nil {
		return nil, err
	}
	nr, err := newNetworkRecord(groups, true)
	if err != nil {
		return nil, err
	}
	for _, pop := range nr.Populations {
		if pop.Group.FindDataset("edge_type_id") < 0 {
			return nil, NewSchemaViolationError(fmt.Sprintf("edge population %q missing edge_type_id", pop.Name))
		}
		if pop.Group.FindDataset("edge_id") >= 0 {
			return nil, NewSchemaViolationError(fmt.Sprintf("edge population %q carries forbidden explicit edge_id dataset", pop.Name))
		}
		if _, err := pop.Group.findIndexSubgroup(); err != nil {
			return nil, err
		}
	}
	return nr, nil
}

func newNetworkRecord(groups []*Group, isEdges bool) (*NetworkRecord, error) {
	nr := &NetworkRecord{indexOf: make(map[string]int, len(groups)), IsEdges: isEdges}
	nr.Partition = append(nr.Partition, 0)

	idCol := "node_type_id"
	if isEdges {
		idCol = "edge_type_id"
	}

	for i, g := range groups {
		size, err := g.DatasetSize(idCol)
		if err != nil {
			return nil, NewSchemaViolationError(fmt.Sprintf("population %q missing %s", g.Name(), idCol))
		}
		nr.Populations = append(nr.Populations, Population{Name: g.Name(), Group: g})
		nr.indexOf[g.Name()] = i
		nr.Partition = append(nr.Partition, nr.Partition[len(nr.Partition)-1]+size)
	}
	return nr, nil
}

// NumElements is the total element count across every population.
func (nr *NetworkRecord) NumElements() int {
	return nr.Partition[len(nr.Partition)-1]
}

// PopulationIndex returns the index of the named population, or -1.
func (nr *NetworkRecord) PopulationIndex(name string) int {
	if i, ok := nr.indexOf[name]; ok {
		return i
	}
	return -1
}

// Localize finds (pop_name, el_id) for a global id: the highest i with
// Partition[i] <= gid.
func (nr *NetworkRecord) Localize(gid int) (string, int, error) {
	if gid < 0 || gid >= nr.NumElements() {
		return "", 0, NewSchemaViolationError(fmt.Sprintf("gid %d out of range [0,%d)", gid, nr.NumElements()))
	}
	// Partition is sorted ascending; find highest i with Partition[i] <= gid.
	i := 0
	for idx := 0; idx < len(nr.Partition)-1; idx++ {
		if nr.Partition[idx] <= gid {
			i = idx
		} else {
			break
		}
	}
	return nr.Populations[i].Name, gid - nr.Partition[i], nil
}

// Globalize maps (pop_name, el_id) to a global id.
func (nr *NetworkRecord) Globalize(popName string, elId int) (int, error) {
	i := nr.PopulationIndex(popName)
	if i < 0 {
		return 0, NewSchemaViolationError(fmt.Sprintf("unknown population %q", popName))
	}
	return nr.Partition[i] + elId, nil
}

// Population returns the named population and whether it exists.
func (nr *NetworkRecord) Population(name string) (Population, bool) {
	i := nr.PopulationIndex(name)
	if i < 0 {
		return Population{}, false
	}
	return nr.Populations[i], true
}
