package codec

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/webindex/webindex/internal/codec/bloom"
)

const sidecarTargetFPR = 0.01

// Sidecar is the JSON statistics+bloom-filter companion to a partition
// file, written alongside it so the planner can decide whether to open
// the file at all.
type Sidecar struct {
	RowCount           int64  `json:"row_count"`
	MinTimestampUnixMs int64  `json:"min_timestamp_unix_ms"`
	MaxTimestampUnixMs int64  `json:"max_timestamp_unix_ms"`
	MinCalibre         uint8  `json:"min_calibre,omitempty"`
	MaxCalibre         uint8  `json:"max_calibre,omitempty"`
	HasFinalTrue       bool   `json:"has_final_true,omitempty"`
	HasFinalFalse      bool   `json:"has_final_false,omitempty"`
	URLBloom           string `json:"url_bloom"` // base64 output of BloomFilter.SerializeToBase64
}

// BuildSidecar constructs a Sidecar from a Stats block, seeding the URL
// bloom filter from stats.URLs.
func BuildSidecar(stats Stats) (Sidecar, error) {
	filter := bloom.NewWithEstimates(max(len(stats.URLs), 1), sidecarTargetFPR)
	for _, u := range stats.URLs {
		filter.Add([]byte(u))
	}
	encoded, err := filter.SerializeToBase64()
	if err != nil {
		return Sidecar{}, fmt.Errorf("codec: serialize url bloom filter: %w", err)
	}
	if filter.Count() > 0 {
		log.Printf("codec: built url bloom filter urls=%d estimated_fpr=%.4f", filter.Count(), filter.FalsePositiveRate())
	}

	return Sidecar{
		RowCount:           stats.RowCount,
		MinTimestampUnixMs: stats.MinTimestampUnixMs,
		MaxTimestampUnixMs: stats.MaxTimestampUnixMs,
		MinCalibre:         stats.MinCalibre,
		MaxCalibre:         stats.MaxCalibre,
		HasFinalTrue:       stats.HasFinalTrue,
		HasFinalFalse:      stats.HasFinalFalse,
		URLBloom:           encoded,
	}, nil
}

// MightContainURL reports whether url could be present in the file,
// using the bloom filter (no false negatives, possible false positives).
func (s Sidecar) MightContainURL(url string) (bool, error) {
	filter, err := bloom.DeserializeFromBase64(s.URLBloom)
	if err != nil {
		return true, fmt.Errorf("codec: decode url bloom filter: %w", err)
	}
	return filter.Contains([]byte(url)), nil
}

// WriteSidecarFile marshals sc as JSON to path.
func WriteSidecarFile(path string, sc Sidecar) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("codec: marshal sidecar: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSidecarFile reads and unmarshals a Sidecar from path.
func ReadSidecarFile(path string) (Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sidecar{}, fmt.Errorf("codec: read sidecar: %w", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return Sidecar{}, fmt.Errorf("codec: unmarshal sidecar: %w", err)
	}
	return sc, nil
}

// SidecarPath derives the sidecar path from a partition file's path by
// appending a fixed suffix. Canonical keys end ".parquet" and part keys
// end in their uuid marker; neither ends ".stats.json", so a suffix
// append is unambiguous.
func SidecarPath(partitionPath string) string {
	return partitionPath + ".stats.json"
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
