package sonatacore

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
)

// rawDataset is the backend-agnostic shape of one typed column. Only one of
// Ints/Floats/Strings is populated; every dataset in the hierarchical
// binary schema carries a single element type.
type rawDataset struct {
	Name    string
	Ints    []int
	Floats  []float64
	Strings []string
}

func (d *rawDataset) size() int {
	switch {
	case d.Ints != nil:
		return len(d.Ints)
	case d.Floats != nil:
		return len(d.Floats)
	default:
		return len(d.Strings)
	}
}

// rawGroup is the backend-agnostic tree shape a Backend materializes: a
// named node carrying zero or more typed datasets and zero or more
// sub-groups.
type rawGroup struct {
	Name     string
	Datasets []rawDataset
	Groups   []rawGroup
}

// Backend loads a hierarchical tabular file (groups, sub-groups, typed
// datasets) into a rawGroup tree rooted at the file's top-level group.
// Callers only ever see the Group view, so swapping in a different on-disk
// codec (an HDF5 binding, say) means implementing this interface and
// nothing else.
type Backend interface {
	Load(path string) (*rawGroup, error)
}

// gobBackend implements Backend by decoding a gzip-compressed gob-encoded
// rawGroup.
type gobBackend struct{}

// NewGobBackend returns the default Backend implementation.
func NewGobBackend() Backend { return gobBackend{} }

func (gobBackend) Load(path string) (*rawGroup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, NewFileOpenError(path, err)
	}
	defer gz.Close()

	var root rawGroup
	if err := gob.NewDecoder(gz).Decode(&root); err != nil {
		return nil, NewFileOpenError(path, err)
	}
	return &root, nil
}

// WriteGobFile is the writer-side counterpart of gobBackend, used by tests
// and by output.go to produce files this Backend can read back.
func WriteGobFile(path string, root *rawGroup) error {
	f, err := os.Create(path)
	if err != nil {
		return NewFileOpenError(path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	if err := gob.NewEncoder(gz).Encode(root); err != nil {
		return NewFileOpenError(path, err)
	}
	return nil
}

// Group is a read-only, typed-random-access view over a rawGroup. Every
// read re-resolves the dataset/child by name (cached here via the index
// maps built once in newGroup) and out-of-range access fails with a
// DatasetAccess error naming the dataset and the offending index.
type Group struct {
	name      string
	datasets  []*rawDataset
	dsetIndex map[string]int
	children  []*Group
	childIdx  map[string]int
}

func newGroup(raw *rawGroup) *Group {
	g := &Group{
		name:      raw.Name,
		dsetIndex: make(map[string]int, len(raw.Datasets)),
		childIdx:  make(map[string]int, len(raw.Groups)),
	}
	for i := range raw.Datasets {
		d := &raw.Datasets[i]
		g.datasets = append(g.datasets, d)
		g.dsetIndex[d.Name] = i
	}
	for i := range raw.Groups {
		child := newGroup(&raw.Groups[i])
		g.children = append(g.children, child)
		g.childIdx[child.name] = i
	}
	return g
}

// Name returns the group's own name.
func (g *Group) Name() string { return g.name }

// Size returns the number of immediate child groups.
func (g *Group) Size() int { return len(g.children) }

// FindGroup returns the index of the named child group, or -1.
func (g *Group) FindGroup(name string) int {
	if i, ok := g.childIdx[name]; ok {
		return i
	}
	return -1
}

// FindDataset returns the index of the named dataset, or -1.
func (g *Group) FindDataset(name string) int {
	if i, ok := g.dsetIndex[name]; ok {
		return i
	}
	return -1
}

// Child returns the i-th immediate child group.
func (g *Group) Child(i int) *Group { return g.children[i] }

// ChildByName returns the named child group and whether it was found.
func (g *Group) ChildByName(name string) (*Group, bool) {
	i := g.FindGroup(name)
	if i < 0 {
		return nil, false
	}
	return g.children[i], true
}

// ChildNames returns child group names in declaration order, for
// population discovery.
func (g *Group) ChildNames() []string {
	names := make([]string, len(g.children))
	for i, c := range g.children {
		names[i] = c.name
	}
	return names
}

func (g *Group) dataset(name string) (*rawDataset, error) {
	i := g.FindDataset(name)
	if i < 0 {
		return nil, NewDatasetAccessError(name, "no such dataset in group "+g.name)
	}
	return g.datasets[i], nil
}

// DatasetSize returns the element count of the named dataset.
func (g *Group) DatasetSize(name string) (int, error) {
	d, err := g.dataset(name)
	if err != nil {
		return 0, err
	}
	return d.size(), nil
}

func boundsCheck(dataset string, i, n int) error {
	if i < 0 || i >= n {
		return NewDatasetAccessError(dataset, fmt.Sprintf("index %d out of range [0,%d)", i, n))
	}
	return nil
}

// IntAt reads one element of an integer dataset.
func (g *Group) IntAt(name string, i int) (int, error) {
	d, err := g.dataset(name)
	if err != nil {
		return 0, err
	}
	if err := boundsCheck(name, i, len(d.Ints)); err != nil {
		return 0, err
	}
	return d.Ints[i], nil
}

// FloatAt reads one element of a float dataset.
func (g *Group) FloatAt(name string, i int) (float64, error) {
	d, err := g.dataset(name)
	if err != nil {
		return 0, err
	}
	if err := boundsCheck(name, i, len(d.Floats)); err != nil {
		return 0, err
	}
	return d.Floats[i], nil
}

// StringAt reads one element of a string dataset.
func (g *Group) StringAt(name string, i int) (string, error) {
	d, err := g.dataset(name)
	if err != nil {
		return "", err
	}
	if err := boundsCheck(name, i, len(d.Strings)); err != nil {
		return "", err
	}
	return d.Strings[i], nil
}

// IntRange reads the half-open slice [i,j) of an integer dataset.
func (g *Group) IntRange(name string, i, j int) ([]int, error) {
	d, err := g.dataset(name)
	if err != nil {
		return nil, err
	}
	if i < 0 || j > len(d.Ints) || i > j {
		return nil, NewDatasetAccessError(name, fmt.Sprintf("range [%d,%d) out of bounds (len %d)", i, j, len(d.Ints)))
	}
	out := make([]int, j-i)
	copy(out, d.Ints[i:j])
	return out, nil
}

// FloatRange reads the half-open slice [i,j) of a float dataset.
func (g *Group) FloatRange(name string, i, j int) ([]float64, error) {
	d, err := g.dataset(name)
	if err != nil {
		return nil, err
	}
	if i < 0 || j > len(d.Floats) || i > j {
		return nil, NewDatasetAccessError(name, fmt.Sprintf("range [%d,%d) out of bounds (len %d)", i, j, len(d.Floats)))
	}
	out := make([]float64, j-i)
	copy(out, d.Floats[i:j])
	return out, nil
}

// IntPairAt reads one row of a 2-column integer dataset, stored flattened
// (row k occupies Ints[2k], Ints[2k+1]).
func (g *Group) IntPairAt(name string, i int) ([2]int, error) {
	d, err := g.dataset(name)
	if err != nil {
		return [2]int{}, err
	}
	rows := len(d.Ints) / 2
	if err := boundsCheck(name, i, rows); err != nil {
		return [2]int{}, err
	}
	return [2]int{d.Ints[2*i], d.Ints[2*i+1]}, nil
}

// Int1D reads an entire integer dataset.
func (g *Group) Int1D(name string) ([]int, error) {
	d, err := g.dataset(name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(d.Ints))
	copy(out, d.Ints)
	return out, nil
}

// Int2D reads an entire 2-column integer dataset as row pairs.
func (g *Group) Int2D(name string) ([][2]int, error) {
	d, err := g.dataset(name)
	if err != nil {
		return nil, err
	}
	rows := len(d.Ints) / 2
	out := make([][2]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = [2]int{d.Ints[2*i], d.Ints[2*i+1]}
	}
	return out, nil
}

// findIndexSubgroup locates the "indicies"/"indices" sub-group. Circuit
// files in the wild carry the misspelled name; both are accepted.
func (g *Group) findIndexSubgroup() (*Group, error) {
	if sg, ok := g.ChildByName("indicies"); ok {
		return sg, nil
	}
	if sg, ok := g.ChildByName("indices"); ok {
		return sg, nil
	}
	return nil, NewSchemaViolationError(fmt.Sprintf("edge population %q missing indicies group", g.name))
}

// loadPopulationGroups opens the given files through backend and returns
// the population groups discovered beneath each file's single top-level
// child group.
func loadPopulationGroups(backend Backend, paths []string) ([]*Group, error) {
	var pops []*Group
	seen := make(map[string]bool)
	for _, path := range paths {
		raw, err := backend.Load(path)
		if err != nil {
			return nil, err
		}
		root := newGroup(raw)
		if root.Size() != 1 {
			return nil, NewSchemaViolationError(fmt.Sprintf("file %q: expected exactly one top-level child group, found %d", path, root.Size()))
		}
		container := root.Child(0)
		for _, name := range container.ChildNames() {
			if seen[name] {
				continue
			}
			seen[name] = true
			pop, _ := container.ChildByName(name)
			pops = append(pops, pop)
		}
	}
	sort.Slice(pops, func(i, j int) bool { return pops[i].name < pops[j].name })
	return pops, nil
}
