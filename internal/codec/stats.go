package codec

import (
	"github.com/webindex/webindex/internal/wmodel"
)

// Stats is the per-file statistics block of spec §4.2: min/max on the
// columns the planner prunes by (timestamp, fetcher_calibre), the
// distinct urls that seed the sidecar's bloom filter, plus an is_final
// summary and row count, sufficient to skip a whole file without
// opening it.
type Stats struct {
	RowCount int64

	MinTimestampUnixMs int64
	MaxTimestampUnixMs int64

	MinCalibre uint8
	MaxCalibre uint8

	HasFinalTrue  bool
	HasFinalFalse bool

	// URLs is every distinct URL observed, used to seed the bloom filter;
	// the list itself is not stored in the sidecar.
	URLs []string
}

// DataStatsTracker accumulates Stats while a data file is being written.
type DataStatsTracker struct {
	count       int64
	minTS, maxTS int64
	minCal, maxCal uint8
	hasFinalTrue, hasFinalFalse bool
	seenURL map[string]struct{}
	urls    []string
	first   bool
}

// NewDataStatsTracker creates an empty tracker.
func NewDataStatsTracker() *DataStatsTracker {
	return &DataStatsTracker{seenURL: make(map[string]struct{}), first: true}
}

// Update folds row into the running statistics.
func (t *DataStatsTracker) Update(row wmodel.DataRow) {
	ts := row.Timestamp.UnixMilli()
	cal := uint8(row.FetcherCalibre)

	if t.first {
		t.minTS, t.maxTS = ts, ts
		t.minCal, t.maxCal = cal, cal
		t.first = false
	} else {
		if ts < t.minTS {
			t.minTS = ts
		}
		if ts > t.maxTS {
			t.maxTS = ts
		}
		if cal < t.minCal {
			t.minCal = cal
		}
		if cal > t.maxCal {
			t.maxCal = cal
		}
	}

	if row.IsFinal {
		t.hasFinalTrue = true
	} else {
		t.hasFinalFalse = true
	}

	if _, ok := t.seenURL[row.URL]; !ok {
		t.seenURL[row.URL] = struct{}{}
		t.urls = append(t.urls, row.URL)
	}

	t.count++
}

// Stats returns the accumulated statistics block.
func (t *DataStatsTracker) Stats() Stats {
	return Stats{
		RowCount:           t.count,
		MinTimestampUnixMs: t.minTS,
		MaxTimestampUnixMs: t.maxTS,
		MinCalibre:         t.minCal,
		MaxCalibre:         t.maxCal,
		HasFinalTrue:       t.hasFinalTrue,
		HasFinalFalse:      t.hasFinalFalse,
		URLs:               t.urls,
	}
}

// MetadataStatsTracker accumulates Stats for a metadata file (no
// calibre/is_final columns, so those fields stay zero).
type MetadataStatsTracker struct {
	count        int64
	minTS, maxTS int64
	seenURL      map[string]struct{}
	urls         []string
	first        bool
}

// NewMetadataStatsTracker creates an empty tracker.
func NewMetadataStatsTracker() *MetadataStatsTracker {
	return &MetadataStatsTracker{seenURL: make(map[string]struct{}), first: true}
}

// Update folds row into the running statistics.
func (t *MetadataStatsTracker) Update(row wmodel.MetadataRow) {
	ts := row.Timestamp.UnixMilli()
	if t.first {
		t.minTS, t.maxTS = ts, ts
		t.first = false
	} else {
		if ts < t.minTS {
			t.minTS = ts
		}
		if ts > t.maxTS {
			t.maxTS = ts
		}
	}
	if _, ok := t.seenURL[row.URL]; !ok {
		t.seenURL[row.URL] = struct{}{}
		t.urls = append(t.urls, row.URL)
	}
	t.count++
}

// Stats returns the accumulated statistics block.
func (t *MetadataStatsTracker) Stats() Stats {
	return Stats{
		RowCount:           t.count,
		MinTimestampUnixMs: t.minTS,
		MaxTimestampUnixMs: t.maxTS,
		URLs:               t.urls,
	}
}
