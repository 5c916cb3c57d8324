package sonatacore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arborsim/sonatacore/morph"
)

// NetworkEntry names one pair of binary/text table files contributing
// populations to the node or edge network.
type NetworkEntry struct {
	NodesFile     string `json:"nodes_file,omitempty"`
	NodeTypesFile string `json:"node_types_file,omitempty"`
	EdgesFile     string `json:"edges_file,omitempty"`
	EdgeTypesFile string `json:"edge_types_file,omitempty"`
}

// NetworkConfig is the circuit-config shape listed under "network": a set
// of node entries and a set of edge entries.
type NetworkConfig struct {
	Nodes []NetworkEntry `json:"nodes"`
	Edges []NetworkEntry `json:"edges"`
}

// ConditionsConfig holds the simulation-condition defaults.
type ConditionsConfig struct {
	Celsius float64 `json:"celsius"`
	VInit   float64 `json:"v_init"`
}

// RunConfig holds the run-control parameters.
type RunConfig struct {
	Tstop          float64 `json:"tstop"`
	Dt             float64 `json:"dt"`
	SpikeThreshold float64 `json:"spike_threshold"`
}

// InputConfig is one entry of "inputs.*": either a spike-train input
// (input_file + node_set) or a current-clamp input (electrode_file +
// input_file).
type InputConfig struct {
	InputType     string `json:"input_type"`
	InputFile     string `json:"input_file"`
	NodeSet       string `json:"node_set,omitempty"`
	ElectrodeFile string `json:"electrode_file,omitempty"`
	Population    string `json:"population,omitempty"`
}

// OutputsConfig is the "outputs" block: where spikes are written and in
// what order.
type OutputsConfig struct {
	SpikesFile      string `json:"spikes_file"`
	SpikesSortOrder string `json:"spikes_sort_order"`
}

// ReportConfig is one entry of "reports.*": a trace recording request.
type ReportConfig struct {
	ReportFile   string  `json:"report_file"`
	VariableName string  `json:"variable_name"`
	SectionID    int     `json:"section_id"`
	SectionPos   float64 `json:"section_pos"`
	NodeSet      string  `json:"node_set"`
	Population   string  `json:"population"`
}

// Config is the top-level JSON-shaped configuration record.
type Config struct {
	Network      NetworkConfig           `json:"network"`
	NodeSetsFile string                  `json:"node_sets_file,omitempty"`
	Conditions   ConditionsConfig        `json:"conditions"`
	Run          RunConfig               `json:"run"`
	Inputs       map[string]InputConfig  `json:"inputs"`
	Outputs      OutputsConfig           `json:"outputs"`
	Reports      map[string]ReportConfig `json:"reports"`
}

// LoadConfig reads and validates a JSON configuration file: read,
// unmarshal, then check every field explicitly with a precise error
// message per violated constraint. The "network" field is either an inline
// object or a path to a separate circuit-config file holding that object.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}

	var shell struct {
		Network      json.RawMessage         `json:"network"`
		NodeSetsFile string                  `json:"node_sets_file,omitempty"`
		Conditions   ConditionsConfig        `json:"conditions"`
		Run          RunConfig               `json:"run"`
		Inputs       map[string]InputConfig  `json:"inputs"`
		Outputs      OutputsConfig           `json:"outputs"`
		Reports      map[string]ReportConfig `json:"reports"`
	}
	if err := json.Unmarshal(raw, &shell); err != nil {
		return nil, fmt.Errorf("config error: failed to parse %q: %w", path, err)
	}

	cfg := &Config{
		NodeSetsFile: shell.NodeSetsFile,
		Conditions:   shell.Conditions,
		Run:          shell.Run,
		Inputs:       shell.Inputs,
		Outputs:      shell.Outputs,
		Reports:      shell.Reports,
	}
	if len(shell.Network) > 0 {
		var circuitPath string
		if err := json.Unmarshal(shell.Network, &circuitPath); err == nil {
			circuitRaw, err := os.ReadFile(circuitPath)
			if err != nil {
				return nil, NewFileOpenError(circuitPath, err)
			}
			if err := json.Unmarshal(circuitRaw, &cfg.Network); err != nil {
				return nil, fmt.Errorf("config error: failed to parse circuit config %q: %w", circuitPath, err)
			}
		} else if err := json.Unmarshal(shell.Network, &cfg.Network); err != nil {
			return nil, fmt.Errorf("config error: network must be an object or a circuit-config path: %w", err)
		}
	}

	if len(cfg.Network.Nodes) == 0 {
		return nil, fmt.Errorf("config error: network.nodes must list at least one entry")
	}
	for i, n := range cfg.Network.Nodes {
		if n.NodesFile == "" || n.NodeTypesFile == "" {
			return nil, fmt.Errorf("config error: network.nodes[%d] requires nodes_file and node_types_file", i)
		}
	}
	for i, e := range cfg.Network.Edges {
		if e.EdgesFile == "" || e.EdgeTypesFile == "" {
			return nil, fmt.Errorf("config error: network.edges[%d] requires edges_file and edge_types_file", i)
		}
	}

	if cfg.Run.Tstop <= 0 {
		return nil, fmt.Errorf("config error: run.tstop must be positive")
	}
	if cfg.Run.Dt <= 0 {
		return nil, fmt.Errorf("config error: run.dt must be positive")
	}

	if cfg.Outputs.SpikesFile != "" &&
		cfg.Outputs.SpikesSortOrder != "time" && cfg.Outputs.SpikesSortOrder != "gid" {
		return nil, fmt.Errorf("config error: invalid outputs.spikes_sort_order %q, must be one of 'time', 'gid'", cfg.Outputs.SpikesSortOrder)
	}

	for name, in := range cfg.Inputs {
		switch in.InputType {
		case "spikes":
			if in.InputFile == "" {
				return nil, fmt.Errorf("config error: inputs.%s (spikes) requires input_file", name)
			}
		case "current_clamp":
			if in.ElectrodeFile == "" || in.InputFile == "" {
				return nil, fmt.Errorf("config error: inputs.%s (current_clamp) requires electrode_file and input_file", name)
			}
		default:
			return nil, fmt.Errorf("config error: inputs.%s has invalid input_type %q, must be one of 'current_clamp', 'spikes'", name, in.InputType)
		}
	}

	for name, r := range cfg.Reports {
		if r.VariableName != "v" && r.VariableName != "i" {
			return nil, fmt.Errorf("config error: reports.%s has invalid variable_name %q, must be one of 'v', 'i'", name, r.VariableName)
		}
		if r.ReportFile == "" {
			return nil, fmt.Errorf("config error: reports.%s requires report_file", name)
		}
	}

	return cfg, nil
}

// NodeSet names a population and an explicit list of its local node ids.
// An empty IDs list means every node in the population.
type NodeSet struct {
	Population string `json:"population"`
	IDs        []int  `json:"ids"`
}

// LoadNodeSets reads a node-sets file: a JSON object mapping set name to
// {population, ids}. Inputs and reports refer to these sets by name.
func LoadNodeSets(path string) (map[string]NodeSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}
	var sets map[string]NodeSet
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, fmt.Errorf("config error: failed to parse node sets %q: %w", path, err)
	}
	return sets, nil
}

// OpenNetwork wires a validated Config into a fully-resolved Network: it
// loads every node/edge binary population, merges the corresponding text
// tables, and builds the node and edge catalogs.
func OpenNetwork(cfg *Config, backend Backend, morphLoader morph.Loader) (*Network, error) {
	return openNetwork(cfg, backend, morphLoader, "")
}

// OpenNetworkCached is OpenNetwork with an on-disk catalog cache: when
// cachePath holds a snapshot whose source hash matches the current type
// tables and the parameter/morphology documents they reference, the
// resolved catalogs are loaded from it instead of re-parsed. A stale,
// missing, or unreadable cache is rebuilt and rewritten, not an error.
func OpenNetworkCached(cfg *Config, backend Backend, morphLoader morph.Loader, cachePath string) (*Network, error) {
	return openNetwork(cfg, backend, morphLoader, cachePath)
}

func openNetwork(cfg *Config, backend Backend, morphLoader morph.Loader, cachePath string) (*Network, error) {
	if backend == nil {
		backend = NewGobBackend()
	}
	if morphLoader == nil {
		morphLoader = morph.SWCLoader{}
	}

	var nodeFiles, nodeTypeFiles []string
	for _, n := range cfg.Network.Nodes {
		nodeFiles = append(nodeFiles, n.NodesFile)
		nodeTypeFiles = append(nodeTypeFiles, n.NodeTypesFile)
	}
	var edgeFiles, edgeTypeFiles []string
	for _, e := range cfg.Network.Edges {
		edgeFiles = append(edgeFiles, e.EdgesFile)
		edgeTypeFiles = append(edgeTypeFiles, e.EdgeTypesFile)
	}

	nodes, err := NewNodeNetworkRecord(backend, nodeFiles)
	if err != nil {
		return nil, err
	}
	edges, err := NewEdgeNetworkRecord(backend, edgeFiles)
	if err != nil {
		return nil, err
	}

	nodeTypes, err := LoadRecordStore(nodeTypeFiles)
	if err != nil {
		return nil, err
	}
	edgeTypes, err := LoadRecordStore(edgeTypeFiles)
	if err != nil {
		return nil, err
	}

	var nodeCat *NodeCatalog
	var edgeCat *EdgeCatalog
	if cachePath != "" {
		hash, err := CatalogSourceHash(catalogSourcePaths(nodeTypeFiles, edgeTypeFiles, nodeTypes, edgeTypes))
		if err != nil {
			return nil, err
		}
		if nc, ec, err := LoadCatalogCache(cachePath, hash); err == nil {
			nodeCat, edgeCat = nc, ec
		} else {
			if nodeCat, edgeCat, err = buildCatalogs(nodeTypes, edgeTypes, morphLoader); err != nil {
				return nil, err
			}
			if err := SaveCatalogCache(cachePath, hash, nodeCat, edgeCat); err != nil {
				return nil, err
			}
		}
	} else {
		if nodeCat, edgeCat, err = buildCatalogs(nodeTypes, edgeTypes, morphLoader); err != nil {
			return nil, err
		}
	}

	return &Network{
		Nodes:       nodes,
		Edges:       edges,
		NodeTypes:   nodeTypes,
		EdgeTypes:   edgeTypes,
		NodeCat:     nodeCat,
		EdgeCat:     edgeCat,
		MorphLoader: morphLoader,
	}, nil
}

func buildCatalogs(nodeTypes, edgeTypes *RecordStore, morphLoader morph.Loader) (*NodeCatalog, *EdgeCatalog, error) {
	nodeCat, err := NewNodeCatalog(nodeTypes, morphLoader)
	if err != nil {
		return nil, nil, err
	}
	edgeCat, err := NewEdgeCatalog(edgeTypes)
	if err != nil {
		return nil, nil, err
	}
	return nodeCat, edgeCat, nil
}

// catalogSourcePaths lists every file the catalogs are derived from: the
// type tables themselves plus the documents their rows reference by path.
// Changing any of them must invalidate the catalog cache. A node row's
// model_template is a document path; an edge row's is a mechanism name, so
// only its dynamics_params is a file.
func catalogSourcePaths(nodeTypeFiles, edgeTypeFiles []string, nodeTypes, edgeTypes *RecordStore) []string {
	paths := append([]string(nil), nodeTypeFiles...)
	paths = append(paths, edgeTypeFiles...)
	for _, id := range nodeTypes.UniqueIds() {
		if mt, _ := nodeTypes.Field(id, "model_type"); mt == "virtual" {
			continue
		}
		for _, field := range []string{"morphology", "model_template", "dynamics_params"} {
			if v, ok := nodeTypes.Field(id, field); ok {
				paths = append(paths, v)
			}
		}
	}
	for _, id := range edgeTypes.UniqueIds() {
		if v, ok := edgeTypes.Field(id, "dynamics_params"); ok {
			paths = append(paths, v)
		}
	}
	return paths
}
