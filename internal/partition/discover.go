package partition

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/webindex/webindex/internal/wmodel"
)

// YearMonth names a single partition period.
type YearMonth struct {
	Year  int
	Month int
}

// Before reports whether ym is chronologically before other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// DiscoverMonths lists every (year, month) for which stream/domain has at
// least one file, descending from most to least recent. The simple and
// time-bounded query algorithms of spec §4.4.2/4.4.3 use this instead of
// iterating an unbounded range back to a fixed store epoch, since the
// object store is the only source of truth for which months exist.
func (m *Manager) DiscoverMonths(ctx context.Context, stream wmodel.Stream, domain string) ([]YearMonth, error) {
	keys, err := m.store.List(ctx, string(stream)+"/")
	if err != nil {
		return nil, err
	}

	seen := make(map[YearMonth]struct{})
	for _, key := range keys {
		if isSidecarKey(key) {
			continue
		}
		segments := strings.Split(key, "/")
		if len(segments) != 4 {
			continue
		}
		year, err := strconv.Atoi(segments[1])
		if err != nil {
			continue
		}
		month, err := strconv.Atoi(segments[2])
		if err != nil {
			continue
		}
		if domainFromFilename(segments[3]) != domain {
			continue
		}
		seen[YearMonth{Year: year, Month: month}] = struct{}{}
	}

	out := make([]YearMonth, 0, len(seen))
	for ym := range seen {
		out = append(out, ym)
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i]) })
	return out, nil
}

// domainFromFilename recovers the domain component of a partition
// filename, stripping the ".parquet" suffix of a canonical file and
// the trailing uuid marker of a part file.
func domainFromFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".parquet")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		if _, err := uuid.Parse(name[idx+1:]); err == nil {
			return name[:idx]
		}
	}
	return name
}
