package sonatacore

import (
	"errors"
	"fmt"
)

// ErrorKind identifies which SonataError subkind a failure belongs to.
type ErrorKind int

const (
	// DatasetAccess covers out-of-range or unreadable dataset reads.
	DatasetAccess ErrorKind = iota
	// FileOpen covers unreadable configuration, morphology, parameter, or table files.
	FileOpen
	// SchemaViolation covers missing required columns, absent morphology for a
	// non-virtual cell, a missing indicies group, a forbidden id dataset, a
	// multi-key point-mechanism document, or a mismatched mechanism name.
	SchemaViolation
	// MapConsistency covers a source/target lookup failing against the map
	// built by BuildLocalMaps; it indicates a programmer error, not bad input.
	MapConsistency
)

func (k ErrorKind) String() string {
	switch k {
	case DatasetAccess:
		return "DatasetAccess"
	case FileOpen:
		return "FileOpen"
	case SchemaViolation:
		return "SchemaViolation"
	case MapConsistency:
		return "MapConsistency"
	default:
		return "Unknown"
	}
}

// SonataError is the error family used by the package's readers, catalogs
// and resolvers: their failures return one of these (wrapped with
// fmt.Errorf and %w where extra context must be attached by a caller), and
// Error() always renders as a single line: "kind: payload". LoadConfig and
// LoadNodeSets report their parse and validation failures as plain
// "config error: ..." errors, and LoadCatalogCache reports a hash mismatch
// as a plain error.
type SonataError struct {
	Kind    ErrorKind
	Payload string
	Err     error // optional wrapped cause
}

func (e *SonataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Payload, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Payload)
}

func (e *SonataError) Unwrap() error { return e.Err }

// NewDatasetAccessError reports an out-of-range or unreadable dataset read,
// tagged with the dataset name and the offending index or range.
func NewDatasetAccessError(dataset string, detail string) error {
	return &SonataError{Kind: DatasetAccess, Payload: fmt.Sprintf("dataset %q: %s", dataset, detail)}
}

// NewFileOpenError reports a configuration, morphology, parameter, or table
// file that could not be opened or read.
func NewFileOpenError(path string, cause error) error {
	return &SonataError{Kind: FileOpen, Payload: path, Err: cause}
}

// NewSchemaViolationError reports a structural violation of the SONATA schema.
func NewSchemaViolationError(message string) error {
	return &SonataError{Kind: SchemaViolation, Payload: message}
}

// NewMapConsistencyError reports a source/target lookup that failed against
// the maps built in BuildLocalMaps.
func NewMapConsistencyError(message string) error {
	return &SonataError{Kind: MapConsistency, Payload: message}
}

// IsKind reports whether err is a *SonataError of the given kind, unwrapping
// as needed.
func IsKind(err error, kind ErrorKind) bool {
	var se *SonataError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}
