package sonatacore

import (
	"fmt"
	"sync"

	"github.com/arborsim/sonatacore/morph"
)

// CellKind distinguishes a full cable cell from a virtual spike source.
type CellKind int

const (
	CellCable CellKind = iota
	CellSpikeSource
)

func (k CellKind) String() string {
	if k == CellSpikeSource {
		return "spike_source"
	}
	return "cable"
}

// nodeCatalogEntry is the resolved per-TypePopId node metadata.
type nodeCatalogEntry struct {
	Kind       CellKind
	Morphology *morph.Tree
	MechGroups map[string]MechGroup // group name -> resolved group
}

// NodeCatalog resolves per-node-population metadata from the node record
// store: morphology source, cell kind, default mechanisms, and per-row
// overrides.
type NodeCatalog struct {
	mu      sync.RWMutex
	records *RecordStore
	loader  morph.Loader
	entries map[TypePopId]*nodeCatalogEntry
}

// NewNodeCatalog builds a catalog from every row in records. A cable-cell
// row must carry "morphology" and "model_template"; dynamics_params, if
// present and non-null, is applied immediately.
func NewNodeCatalog(records *RecordStore, loader morph.Loader) (*NodeCatalog, error) {
	cat := &NodeCatalog{records: records, loader: loader, entries: make(map[TypePopId]*nodeCatalogEntry)}
	for _, id := range records.UniqueIds() {
		entry, err := cat.buildEntry(id)
		if err != nil {
			return nil, err
		}
		cat.entries[id] = entry
	}
	return cat, nil
}

func (c *NodeCatalog) buildEntry(id TypePopId) (*nodeCatalogEntry, error) {
	modelType, _ := c.records.Field(id, "model_type")
	if modelType == "virtual" {
		return &nodeCatalogEntry{Kind: CellSpikeSource}, nil
	}

	morphPath, ok := c.records.Field(id, "morphology")
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("node type %s: cable cell missing required morphology", id))
	}
	tree, err := c.loader.Load(morphPath)
	if err != nil {
		return nil, NewFileOpenError(morphPath, err)
	}

	templatePath, ok := c.records.Field(id, "model_template")
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("node type %s: cable cell missing required model_template", id))
	}
	groups, err := ParseDensityMechanismDoc(templatePath)
	if err != nil {
		return nil, err
	}

	if dp, ok := c.records.Field(id, "dynamics_params"); ok {
		overrides, err := ParseDensityOverrideDoc(dp)
		if err != nil {
			return nil, err
		}
		for groupName, vars := range overrides {
			if g, exists := groups[groupName]; exists {
				groups[groupName] = g.Override(vars)
			}
		}
	}

	return &nodeCatalogEntry{Kind: CellCable, Morphology: tree, MechGroups: groups}, nil
}

func (c *NodeCatalog) entry(id TypePopId) (*nodeCatalogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("unknown node type %s", id))
	}
	return e, nil
}

// CellKind returns the cell kind for a node type.
func (c *NodeCatalog) CellKind(id TypePopId) (CellKind, error) {
	e, err := c.entry(id)
	if err != nil {
		return 0, err
	}
	return e.Kind, nil
}

// Morphology returns the per-type default morphology tree; a virtual cell
// has none, so asking for one is a SchemaViolation.
func (c *NodeCatalog) Morphology(id TypePopId) (*morph.Tree, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	if e.Kind != CellCable {
		return nil, NewSchemaViolationError(fmt.Sprintf("node type %s: morphology requested for virtual cell", id))
	}
	return e.Morphology, nil
}

// DynamicParams returns the current resolved free-variable map per group.
func (c *NodeCatalog) DynamicParams(id TypePopId) (map[string]VariableMap, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]VariableMap, len(e.MechGroups))
	for name, g := range e.MechGroups {
		out[name] = g.Variables.clone()
	}
	return out, nil
}

// DensityMechDesc applies overrides atop the catalog defaults, materializes
// every placement, and groups the resulting instances by section kind.
func (c *NodeCatalog) DensityMechDesc(id TypePopId, overrides map[string]VariableMap) (map[SectionKind][]MechInstance, error) {
	e, err := c.entry(id)
	if err != nil {
		return nil, err
	}
	out := make(map[SectionKind][]MechInstance)
	for name, g := range e.MechGroups {
		effective := g
		if ov, ok := overrides[name]; ok {
			effective = g.Override(ov)
		}
		for kind, insts := range effective.Materialize() {
			out[kind] = append(out[kind], insts...)
		}
	}
	return out, nil
}

// OverrideDensityParams mutates the catalog's stored groups for id in
// place. Used only at load time.
func (c *NodeCatalog) OverrideDensityParams(id TypePopId, overrides map[string]VariableMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return NewSchemaViolationError(fmt.Sprintf("unknown node type %s", id))
	}
	for name, ov := range overrides {
		if g, exists := e.MechGroups[name]; exists {
			e.MechGroups[name] = g.Override(ov)
		}
	}
	return nil
}
