package sonatacore

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/arborsim/sonatacore/morph"
)

// catalogCacheData is the serializable snapshot of a built NodeCatalog and
// EdgeCatalog: parsing every type row's morphology and mechanism documents
// is the most expensive part of OpenNetwork, so a cache lets repeated runs
// against an unchanged population skip straight to the resolved entries.
// SourceHash guards against stale caches; LoadCatalogCache refuses a
// snapshot whose hash no longer matches the current source files.
type catalogCacheData struct {
	SourceHash  string
	NodeEntries map[TypePopId]*nodeCatalogEntry
	EdgeEntries map[TypePopId]*edgeCatalogEntry
}

func registerCacheTypes() {
	gob.Register(map[TypePopId]*nodeCatalogEntry{})
	gob.Register(map[TypePopId]*edgeCatalogEntry{})
	gob.Register(map[string]MechGroup{})
	gob.Register(morph.Tree{})
}

// CatalogSourceHash digests the contents of every named file into the hex
// key a catalog cache is stored and verified under. Paths are deduplicated
// and sorted first, so the hash does not depend on discovery order.
func CatalogSourceHash(paths []string) (string, error) {
	unique := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	sort.Strings(unique)

	h := sha256.New()
	for _, p := range unique {
		f, err := os.Open(p)
		if err != nil {
			return "", NewFileOpenError(p, err)
		}
		io.WriteString(h, p)
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", NewFileOpenError(p, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SaveCatalogCache writes nodeCat and edgeCat to path as a gzip-compressed
// gob stream keyed by sourceHash. The write goes through a uuid-suffixed
// temp file in the same directory, then an atomic rename, so a crash
// mid-write never leaves a truncated cache at path.
func SaveCatalogCache(path, sourceHash string, nodeCat *NodeCatalog, edgeCat *EdgeCatalog) error {
	registerCacheTypes()

	nodeCat.mu.RLock()
	data := catalogCacheData{SourceHash: sourceHash, NodeEntries: nodeCat.entries, EdgeEntries: edgeCat.entries}
	nodeCat.mu.RUnlock()

	tmpPath := path + ".tmp-" + uuid.New().String()
	f, err := os.Create(tmpPath)
	if err != nil {
		return NewFileOpenError(tmpPath, err)
	}

	gz := gzip.NewWriter(f)
	if err := gob.NewEncoder(gz).Encode(data); err != nil {
		gz.Close()
		f.Close()
		os.Remove(tmpPath)
		return NewFileOpenError(path, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return NewFileOpenError(path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return NewFileOpenError(path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return NewFileOpenError(path, err)
	}
	return nil
}

// LoadCatalogCache reads a cache written by SaveCatalogCache back into a
// usable NodeCatalog/EdgeCatalog pair, refusing a snapshot whose stored
// source hash differs from wantHash. The returned NodeCatalog carries no
// RecordStore or morph.Loader reference; it serves lookups against its
// cached entries only, which is all OpenNetwork needs once a cache hit
// lands.
func LoadCatalogCache(path, wantHash string) (*NodeCatalog, *EdgeCatalog, error) {
	registerCacheTypes()

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, NewFileOpenError(path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, NewFileOpenError(path, err)
	}
	defer gz.Close()

	var data catalogCacheData
	if err := gob.NewDecoder(gz).Decode(&data); err != nil {
		return nil, nil, NewFileOpenError(path, err)
	}
	if data.SourceHash != wantHash {
		return nil, nil, fmt.Errorf("catalog cache %q does not match current source files", path)
	}

	nodeCat := &NodeCatalog{entries: data.NodeEntries}
	edgeCat := &EdgeCatalog{entries: data.EdgeEntries}
	return nodeCat, edgeCat, nil
}
