package partition

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/webindex/webindex/internal/wmodel"
)

// LogicalPath names a partition's canonical destination before any
// uuid-marker deconfliction is applied: "{dir}/{filename}.{suffix}".
// Grounded on original_source/src/path.rs's LogicalPath/PhysicalPath
// split, kept as distinct types so the path convention can be tested
// independently of storage I/O.
type LogicalPath struct {
	Dir      string
	Filename string
	Suffix   string
}

func (p LogicalPath) String() string {
	return fmt.Sprintf("%s/%s.%s", p.Dir, p.Filename, p.Suffix)
}

// PhysicalPath is the LogicalPath with a uuid marker inserted before the
// suffix, "{dir}/{filename}.{marker}.{suffix}". Manager does not name
// part files with it: a part file takes the key PutUnique mints,
// "{dir}/{filename}.{uuid}", with no suffix.
type PhysicalPath struct {
	Logical LogicalPath
	Marker  string
}

// NewPhysicalPath attaches a specific marker to a logical path.
func NewPhysicalPath(logical LogicalPath, marker string) PhysicalPath {
	return PhysicalPath{Logical: logical, Marker: marker}
}

// NewPhysicalPathDefault attaches a fresh random uuid marker.
func NewPhysicalPathDefault(logical LogicalPath) PhysicalPath {
	return NewPhysicalPath(logical, uuid.New().String())
}

func (p PhysicalPath) String() string {
	return fmt.Sprintf("%s/%s.%s.%s", p.Logical.Dir, p.Logical.Filename, p.Marker, p.Logical.Suffix)
}

// partitionDir computes "{stream}/{YYYY}/{MM}" per spec §4.3.
func partitionDir(stream wmodel.Stream, year int, month int) string {
	return fmt.Sprintf("%s/%04d/%02d", stream, year, month)
}

// CanonicalLogicalPath returns the logical path of the canonical file
// for (stream, year, month, domain).
func CanonicalLogicalPath(stream wmodel.Stream, year, month int, domain string) LogicalPath {
	return LogicalPath{Dir: partitionDir(stream, year, month), Filename: domain, Suffix: "parquet"}
}
