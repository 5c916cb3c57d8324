package sonatacore

import (
	"fmt"
	"strconv"
)

// edgeCatalogEntry holds the resolved per-TypePopId edge metadata. Numeric
// fields absent from the text table are left at their zero value but
// recorded as absent in Present, so the attribute-resolver fallback can
// tell "field is 0" from "field is missing" and fail with SchemaViolation
// in the latter case.
type edgeCatalogEntry struct {
	PointMech      MechInstance
	SourcePopName  string
	TargetPopName  string
	AfferentSecId  int
	AfferentSecPos float64
	EfferentSecId  int
	EfferentSecPos float64
	Threshold      float64
	SynWeight      float64
	Delay          float64
	ModelTemplate  string
	Present        map[string]bool
}

// EdgeCatalog resolves per-edge-population metadata from the edge record
// store: default point-synapse mechanism and source/target population
// routing.
type EdgeCatalog struct {
	entries map[TypePopId]*edgeCatalogEntry
}

// NewEdgeCatalog builds a catalog from every row in records. Every row must
// carry model_template; if dynamics_params is present and non-null, it is
// parsed as a point mechanism whose name must equal model_template.
func NewEdgeCatalog(records *RecordStore) (*EdgeCatalog, error) {
	cat := &EdgeCatalog{entries: make(map[TypePopId]*edgeCatalogEntry)}
	for _, id := range records.UniqueIds() {
		entry, err := buildEdgeEntry(records, id)
		if err != nil {
			return nil, err
		}
		cat.entries[id] = entry
	}
	return cat, nil
}

func buildEdgeEntry(records *RecordStore, id TypePopId) (*edgeCatalogEntry, error) {
	template, ok := records.Field(id, "model_template")
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("edge type %s: missing required model_template", id))
	}

	entry := &edgeCatalogEntry{ModelTemplate: template, Present: make(map[string]bool)}
	entry.SourcePopName, _ = records.Field(id, "source_pop_name")
	entry.TargetPopName, _ = records.Field(id, "target_pop_name")
	entry.AfferentSecId, _ = fieldInt(records, id, "afferent_section_id", entry.Present)
	entry.AfferentSecPos, _ = fieldFloat(records, id, "afferent_section_pos", entry.Present)
	entry.EfferentSecId, _ = fieldInt(records, id, "efferent_section_id", entry.Present)
	entry.EfferentSecPos, _ = fieldFloat(records, id, "efferent_section_pos", entry.Present)
	entry.Threshold, _ = fieldFloat(records, id, "threshold", entry.Present)
	entry.SynWeight, _ = fieldFloat(records, id, "syn_weight", entry.Present)
	entry.Delay, _ = fieldFloat(records, id, "delay", entry.Present)

	if dp, ok := records.Field(id, "dynamics_params"); ok {
		mech, err := ParsePointMechanism(dp)
		if err != nil {
			return nil, err
		}
		if mech.Name != template {
			return nil, NewSchemaViolationError(fmt.Sprintf("edge type %s: point mechanism name %q disagrees with model_template %q", id, mech.Name, template))
		}
		entry.PointMech = mech
	} else {
		entry.PointMech = MechInstance{Name: template, Params: map[string]float64{}}
	}
	return entry, nil
}

func (c *EdgeCatalog) entry(id TypePopId) (*edgeCatalogEntry, error) {
	e, ok := c.entries[id]
	if !ok {
		return nil, NewSchemaViolationError(fmt.Sprintf("unknown edge type %s", id))
	}
	return e, nil
}

// PointMechDesc returns the default point-synapse mechanism for an edge type.
func (c *EdgeCatalog) PointMechDesc(id TypePopId) (MechInstance, error) {
	e, err := c.entry(id)
	if err != nil {
		return MechInstance{}, err
	}
	return e.PointMech.clone(), nil
}

// Field returns the raw type-row field (the edge-attribute resolver's
// fallback path). ok is false both for unknown field names and
// for numeric fields the text table never set, so a genuinely absent field
// with no per-edge override surfaces as SchemaViolation rather than a
// silent zero.
func (c *EdgeCatalog) Field(id TypePopId, name string) (string, bool, error) {
	e, err := c.entry(id)
	if err != nil {
		return "", false, err
	}
	switch name {
	case "afferent_section_id":
		return itoa(e.AfferentSecId), e.Present[name], nil
	case "afferent_section_pos":
		return ftoa(e.AfferentSecPos), e.Present[name], nil
	case "efferent_section_id":
		return itoa(e.EfferentSecId), e.Present[name], nil
	case "efferent_section_pos":
		return ftoa(e.EfferentSecPos), e.Present[name], nil
	case "threshold":
		return ftoa(e.Threshold), e.Present[name], nil
	case "syn_weight":
		return ftoa(e.SynWeight), e.Present[name], nil
	case "delay":
		return ftoa(e.Delay), e.Present[name], nil
	case "model_template":
		return e.ModelTemplate, true, nil
	default:
		return "", false, nil
	}
}

// EdgesOfSource returns every edge population whose type rows declare
// source_pop_name == pop.
func (c *EdgeCatalog) EdgesOfSource(pop string) map[string]bool {
	out := make(map[string]bool)
	for id, e := range c.entries {
		if e.SourcePopName == pop {
			out[id.PopName] = true
		}
	}
	return out
}

// EdgesOfTarget returns every edge population whose type rows declare
// target_pop_name == pop.
func (c *EdgeCatalog) EdgesOfTarget(pop string) map[string]bool {
	out := make(map[string]bool)
	for id, e := range c.entries {
		if e.TargetPopName == pop {
			out[id.PopName] = true
		}
	}
	return out
}

// EdgeSourcePair pairs an edge population with the source population that
// feeds a given target.
type EdgeSourcePair struct {
	EdgePop   string
	SourcePop string
}

// EdgeToSourceOfTarget returns the (edge_pop, source_pop) pairs whose
// targets land on pop.
func (c *EdgeCatalog) EdgeToSourceOfTarget(pop string) []EdgeSourcePair {
	seen := make(map[EdgeSourcePair]bool)
	var out []EdgeSourcePair
	for id, e := range c.entries {
		if e.TargetPopName != pop {
			continue
		}
		pair := EdgeSourcePair{EdgePop: id.PopName, SourcePop: e.SourcePopName}
		if !seen[pair] {
			seen[pair] = true
			out = append(out, pair)
		}
	}
	return out
}

func fieldInt(records *RecordStore, id TypePopId, name string, present map[string]bool) (int, bool) {
	v, ok := records.Field(id, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	present[name] = true
	return n, true
}

func fieldFloat(records *RecordStore, id TypePopId, name string, present map[string]bool) (float64, bool) {
	v, ok := records.Field(id, name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	present[name] = true
	return f, true
}

func itoa(i int) string { return strconv.Itoa(i) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
