package sonatacore

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// SectionKind is a coarse region tag used to bucket density mechanisms.
type SectionKind string

const (
	SectionSoma SectionKind = "soma"
	SectionDend SectionKind = "dend"
	SectionAxon SectionKind = "axon"
	SectionNone SectionKind = "none"
)

// MechInstance is a named mechanism with a resolved parameter set. Equality
// is by name and parameter set.
type MechInstance struct {
	Name   string
	Params map[string]float64
}

// Equal reports whether two mechanism instances have the same name and an
// identical parameter map.
func (m MechInstance) Equal(other MechInstance) bool {
	if m.Name != other.Name || len(m.Params) != len(other.Params) {
		return false
	}
	for k, v := range m.Params {
		if ov, ok := other.Params[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (m MechInstance) clone() MechInstance {
	cp := MechInstance{Name: m.Name, Params: make(map[string]float64, len(m.Params))}
	for k, v := range m.Params {
		cp.Params[k] = v
	}
	return cp
}

// VariableMap is a group's free-variable map (string -> f64), overridable
// per type or per instance.
type VariableMap map[string]float64

func (v VariableMap) clone() VariableMap {
	cp := make(VariableMap, len(v))
	for k, val := range v {
		cp[k] = val
	}
	return cp
}

// MechPlacement is one density-mechanism placement within a mechanism
// group: a section kind, a base mechanism instance, and an alias map
// redirecting mechanism parameters to group-level free variables.
type MechPlacement struct {
	Section SectionKind
	Base    MechInstance
	Alias   map[string]string // mechanism param name -> group variable name
}

func (p MechPlacement) clone() MechPlacement {
	cp := MechPlacement{Section: p.Section, Base: p.Base.clone(), Alias: make(map[string]string, len(p.Alias))}
	for k, v := range p.Alias {
		cp.Alias[k] = v
	}
	return cp
}

// MechGroup is a named group of free variables plus the mechanism
// placements that read from them.
type MechGroup struct {
	Variables  VariableMap
	Placements []MechPlacement
}

func (g MechGroup) clone() MechGroup {
	cp := MechGroup{Variables: g.Variables.clone(), Placements: make([]MechPlacement, len(g.Placements))}
	for i, p := range g.Placements {
		cp.Placements[i] = p.clone()
	}
	return cp
}

// Materialize applies the group's current variable values to every
// placement's aliases and returns the fully concrete mechanism instances,
// keyed by their declared section kind.
func (g MechGroup) Materialize() map[SectionKind][]MechInstance {
	out := make(map[SectionKind][]MechInstance)
	for _, p := range g.Placements {
		inst := p.Base.clone()
		for param, varName := range p.Alias {
			if v, ok := g.Variables[varName]; ok {
				inst.Params[param] = v
			}
		}
		out[p.Section] = append(out[p.Section], inst)
	}
	return out
}

// Override returns a copy of g with the given variable overrides applied
// atop its own variables (caller overrides win).
func (g MechGroup) Override(overrides VariableMap) MechGroup {
	cp := g.clone()
	for k, v := range overrides {
		cp.Variables[k] = v
	}
	return cp
}

// mechParamCatalog lists the parameter names each known point mechanism
// declares. The per-edge overlay reads every declared name from the edge
// group, whether or not the type-default seed set it.
var mechParamCatalog = map[string][]string{
	"expsyn":  {"e", "tau"},
	"exp2syn": {"e", "tau1", "tau2"},
	"gaba":    {"e", "tau"},
}

// knownMechParams returns the declared parameter names for a mechanism,
// merged with the names already present in seed so a mechanism absent from
// the catalog still refreshes its seeded parameters.
func knownMechParams(name string, seed map[string]float64) []string {
	names := append([]string(nil), mechParamCatalog[name]...)
	declared := make(map[string]bool, len(names))
	for _, n := range names {
		declared[n] = true
	}
	for p := range seed {
		if !declared[p] {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	return names
}

// ParsePointMechanism parses a point-mechanism parameter document: a JSON
// object with exactly one top-level key naming the mechanism, whose value
// is a flat map of numeric parameters. Fails with SchemaViolation if the
// document has more than one top-level key.
func ParsePointMechanism(path string) (MechInstance, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MechInstance{}, NewFileOpenError(path, err)
	}

	var doc map[string]map[string]float64
	if err := json.Unmarshal(raw, &doc); err != nil {
		return MechInstance{}, NewFileOpenError(path, err)
	}
	if len(doc) != 1 {
		return MechInstance{}, NewSchemaViolationError(fmt.Sprintf("point mechanism document %q must contain exactly one mechanism, found %d", path, len(doc)))
	}
	for name, params := range doc {
		return MechInstance{Name: name, Params: params}, nil
	}
	panic("unreachable")
}

// ParseDensityMechanismDoc parses a density-mechanism base parameter
// document into a map of group name -> MechGroup. Each group's body is a
// list of entries; a scalar entry becomes a free variable, a structured
// entry becomes a mechanism placement with "section"/"mech" keys, numeric
// fields as base parameters, and string fields as aliases.
func ParseDensityMechanismDoc(path string) (map[string]MechGroup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}

	var doc map[string][]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, NewFileOpenError(path, err)
	}

	groups := make(map[string]MechGroup, len(doc))
	for groupName, entries := range doc {
		group := MechGroup{Variables: make(VariableMap)}
		for _, entry := range entries {
			if isMechanismPlacement(entry) {
				placement, err := parsePlacement(entry)
				if err != nil {
					return nil, fmt.Errorf("parsing %q group %q: %w", path, groupName, err)
				}
				group.Placements = append(group.Placements, placement)
				continue
			}
			for key, raw := range entry {
				var f float64
				if err := json.Unmarshal(raw, &f); err != nil {
					return nil, NewSchemaViolationError(fmt.Sprintf("%q group %q: free variable %q is not numeric", path, groupName, key))
				}
				group.Variables[key] = f
			}
		}
		groups[groupName] = group
	}
	return groups, nil
}

func isMechanismPlacement(entry map[string]json.RawMessage) bool {
	_, hasSection := entry["section"]
	_, hasMech := entry["mech"]
	return hasSection || hasMech
}

func parsePlacement(entry map[string]json.RawMessage) (MechPlacement, error) {
	p := MechPlacement{Alias: make(map[string]string), Base: MechInstance{Params: make(map[string]float64)}}
	for key, raw := range entry {
		switch key {
		case "section":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return p, NewSchemaViolationError("section field is not a string")
			}
			p.Section = SectionKind(s)
		case "mech":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return p, NewSchemaViolationError("mech field is not a string")
			}
			p.Base.Name = s
		default:
			var f float64
			if err := json.Unmarshal(raw, &f); err == nil {
				p.Base.Params[key] = f
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				p.Alias[key] = s
				continue
			}
			return p, NewSchemaViolationError(fmt.Sprintf("field %q is neither numeric nor a string alias", key))
		}
	}
	return p, nil
}

// ParseDensityOverrideDoc parses an override document: a flat map
// group -> {variable -> value}.
func ParseDensityOverrideDoc(path string) (map[string]VariableMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}
	var doc map[string]VariableMap
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, NewFileOpenError(path, err)
	}
	return doc, nil
}
