// Package partition owns the path convention, domain extraction,
// part-file lifecycle and defragmentation of spec §4.3: a fixed
// (stream, year, month, domain) partitioning scheme.
package partition

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/webindex/webindex/internal/codec"
	"github.com/webindex/webindex/internal/objstore"
	"github.com/webindex/webindex/internal/wmodel"
	"github.com/webindex/webindex/internal/wxerr"
)

// Key identifies a partition: the unit of files read and defragmented
// together.
type Key struct {
	Stream wmodel.Stream
	Year   int
	Month  int
	Domain string
}

// dirPrefix is the object-store key prefix of every file (any domain)
// in k's (stream, year, month) directory: "{dir}/". A raw
// "{dir}/{domain}." prefix is not safe to List on directly — a
// distinct domain sharing that string prefix (e.g. "example.com" vs
// "example.com.au", both valid eTLD+1 outputs) would also match — so
// ListFiles lists the whole directory and filters by the exact parsed
// domain instead.
func (k Key) dirPrefix() string {
	return partitionDir(k.Stream, k.Year, k.Month) + "/"
}

// leaseName is a unique string identifying the exclusive-writer lease
// for k's partition, used by Defragment.
func (k Key) leaseName() string {
	return fmt.Sprintf("defrag:%s/%s", partitionDir(k.Stream, k.Year, k.Month), k.Domain)
}

// Manager implements the partition read/write/defrag contract of spec
// §4.3 over a Store.
type Manager struct {
	store          objstore.Store
	defragMinParts int
	cache          *downloadCache
}

// defaultCacheBytes bounds the in-process download cache at a size
// that comfortably holds a working set of recently-read partition
// files without requiring its own config knob.
const defaultCacheBytes = 256 << 20

// NewManager creates a Manager backed by store, treating fewer than
// minParts files as not worth defragmenting (spec §6's
// defrag_min_parts).
func NewManager(store objstore.Store, minParts int) *Manager {
	if minParts < 2 {
		minParts = 2
	}
	return &Manager{store: store, defragMinParts: minParts, cache: newDownloadCache(defaultCacheBytes)}
}

// ListFiles returns every canonical+part key for k, filtered to k's
// exact domain (see dirPrefix).
func (m *Manager) ListFiles(ctx context.Context, k Key) ([]string, error) {
	keys, err := m.store.List(ctx, k.dirPrefix())
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, key := range keys {
		base := key[len(k.dirPrefix()):]
		if isSidecarKey(base) {
			base = strings.TrimSuffix(base, ".stats.json")
		}
		if domainFromFilename(base) == k.Domain {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadData reads every file in partition k (data streams only) and
// returns the multiset union of rows matching pred, deduplicated by
// (request_id, retry_attempt, timestamp, is_final) on every read so that
// rows present in both a canonical and a part file are returned once,
// per spec §4.3's defrag-race tolerance.
func (m *Manager) ReadData(ctx context.Context, k Key, pred codec.Predicate) ([]wmodel.DataRow, error) {
	if !k.Stream.IsData() {
		return nil, wxerr.Internal("ReadData called on a metadata stream", nil)
	}
	keys, err := m.ListFiles(ctx, k)
	if err != nil {
		return nil, err
	}
	fileKeys := filterSidecars(keys)

	seen := make(map[dedupKey]struct{})
	var out []wmodel.DataRow
	for _, key := range fileKeys {
		if skip, err := m.shouldSkip(ctx, key, pred); err != nil {
			return nil, err
		} else if skip {
			continue
		}
		rows, err := m.readDataFile(ctx, key, pred)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			dk := dedupKey{requestID: r.RequestID.Raw(), retryAttempt: r.RetryAttempt, tsUnixMs: r.Timestamp.UnixMilli(), isFinal: r.IsFinal}
			if _, ok := seen[dk]; ok {
				continue
			}
			seen[dk] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}

type dedupKey struct {
	requestID    string
	retryAttempt uint8
	tsUnixMs     int64
	isFinal      bool
}

// ReadMetadata reads every file in partition k (metadata streams only)
// and returns the multiset union of rows matching pred, deduplicated by
// request_id on every read (the first row read for a request_id wins).
func (m *Manager) ReadMetadata(ctx context.Context, k Key, pred codec.Predicate) ([]wmodel.MetadataRow, error) {
	if !k.Stream.IsMetadata() {
		return nil, wxerr.Internal("ReadMetadata called on a data stream", nil)
	}
	keys, err := m.ListFiles(ctx, k)
	if err != nil {
		return nil, err
	}
	fileKeys := filterSidecars(keys)

	// Metadata files carry no fetcher_calibre column, so its sidecar
	// stats are always zero-valued; skip-pruning on it here would reject
	// every file for any query with a calibre floor above zero.
	skipPred := pred
	skipPred.Calibre = nil

	seen := make(map[string]struct{})
	var out []wmodel.MetadataRow
	for _, key := range fileKeys {
		if skip, err := m.shouldSkip(ctx, key, skipPred); err != nil {
			return nil, err
		} else if skip {
			continue
		}
		rows, err := m.readMetadataFile(ctx, key, pred)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if _, ok := seen[r.RequestID.Raw()]; ok {
				continue
			}
			seen[r.RequestID.Raw()] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}

// WriteDataPart writes rows as a new part file for k via put_unique,
// returning the key it was written to. That key is the one PutUnique
// mints, "{dir}/{domain}.{uuid}"; part keys do not end in ".parquet",
// only the canonical key written by Defragment does.
func (m *Manager) WriteDataPart(ctx context.Context, k Key, rows []wmodel.DataRow) (string, error) {
	tmp, err := os.CreateTemp("", "webindex-data-*.parquet")
	if err != nil {
		return "", wxerr.Internal("create temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	stats, err := codec.WriteDataFile(tmpPath, rows)
	if err != nil {
		return "", err
	}

	body, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", wxerr.Internal("read temp file", err)
	}

	logical := CanonicalLogicalPath(k.Stream, k.Year, k.Month, k.Domain)
	key, err := m.store.PutUnique(ctx, fmt.Sprintf("%s/%s", logical.Dir, logical.Filename), body)
	if err != nil {
		return "", err
	}

	sidecar, err := codec.BuildSidecar(stats)
	if err != nil {
		return "", err
	}
	sidecarBody, err := marshalSidecar(sidecar)
	if err != nil {
		return "", err
	}
	// Write the sidecar at the exact derived name so it is found by
	// codec.SidecarPath(key) on read, rather than via put_unique (which
	// would mint an unrelated uuid of its own).
	if err := m.store.ReplaceAtomically(ctx, nil, codec.SidecarPath(key), sidecarBody); err != nil {
		return "", err
	}

	return key, nil
}

// WriteMetadataPart writes rows as a new part file for k via put_unique.
func (m *Manager) WriteMetadataPart(ctx context.Context, k Key, rows []wmodel.MetadataRow) (string, error) {
	tmp, err := os.CreateTemp("", "webindex-meta-*.parquet")
	if err != nil {
		return "", wxerr.Internal("create temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	stats, err := codec.WriteMetadataFile(tmpPath, rows)
	if err != nil {
		return "", err
	}

	body, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", wxerr.Internal("read temp file", err)
	}

	logical := CanonicalLogicalPath(k.Stream, k.Year, k.Month, k.Domain)
	key, err := m.store.PutUnique(ctx, fmt.Sprintf("%s/%s", logical.Dir, logical.Filename), body)
	if err != nil {
		return "", err
	}

	sidecar, err := codec.BuildSidecar(stats)
	if err != nil {
		return "", err
	}
	sidecarBody, err := marshalSidecar(sidecar)
	if err != nil {
		return "", err
	}
	if err := m.store.ReplaceAtomically(ctx, nil, codec.SidecarPath(key), sidecarBody); err != nil {
		return "", err
	}

	return key, nil
}

// Defragment implements spec §4.3's five-step defrag sequence under an
// exclusive lease: the new canonical file is durably written (and
// confirmed) before any superseded file is deleted.
func (m *Manager) Defragment(ctx context.Context, k Key, leaseTTL time.Duration) error {
	lease, err := m.store.Lease(ctx, k.leaseName(), leaseTTL)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	keys, err := m.ListFiles(ctx, k)
	if err != nil {
		return err
	}
	// Only count the partition files themselves, not their .stats.json
	// sidecars, against defragMinParts.
	fileKeys := filterSidecars(keys)
	if len(fileKeys) < m.defragMinParts {
		return nil
	}

	if k.Stream.IsData() {
		return m.defragmentData(ctx, k, fileKeys)
	}
	return m.defragmentMetadata(ctx, k, fileKeys)
}

func (m *Manager) defragmentData(ctx context.Context, k Key, fileKeys []string) error {
	seen := make(map[dedupKey]struct{})
	var merged []wmodel.DataRow
	for _, key := range fileKeys {
		rows, err := m.readDataFile(ctx, key, codec.Predicate{})
		if err != nil {
			return err
		}
		for _, r := range rows {
			dk := dedupKey{requestID: r.RequestID.Raw(), retryAttempt: r.RetryAttempt, tsUnixMs: r.Timestamp.UnixMilli(), isFinal: r.IsFinal}
			if _, ok := seen[dk]; ok {
				continue
			}
			seen[dk] = struct{}{}
			merged = append(merged, r)
		}
	}
	sortDataRows(merged)

	tmp, err := os.CreateTemp("", "webindex-defrag-data-*.parquet")
	if err != nil {
		return wxerr.Internal("create temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	stats, err := codec.WriteDataFile(tmpPath, merged)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(tmpPath)
	if err != nil {
		return wxerr.Internal("read temp file", err)
	}

	canonicalKey := CanonicalLogicalPath(k.Stream, k.Year, k.Month, k.Domain).String()
	oldKeys := withSidecars(fileKeys, canonicalKey)
	if err := m.store.ReplaceAtomically(ctx, oldKeys, canonicalKey, body); err != nil {
		return err
	}
	m.invalidateCached(oldKeys)
	m.cache.Invalidate(canonicalKey)

	sidecar, err := codec.BuildSidecar(stats)
	if err != nil {
		return err
	}
	sidecarBody, err := marshalSidecar(sidecar)
	if err != nil {
		return err
	}
	return m.store.ReplaceAtomically(ctx, nil, codec.SidecarPath(canonicalKey), sidecarBody)
}

func (m *Manager) defragmentMetadata(ctx context.Context, k Key, fileKeys []string) error {
	seen := make(map[string]struct{})
	var merged []wmodel.MetadataRow
	for _, key := range fileKeys {
		rows, err := m.readMetadataFile(ctx, key, codec.Predicate{})
		if err != nil {
			return err
		}
		for _, r := range rows {
			if _, ok := seen[r.RequestID.Raw()]; ok {
				continue
			}
			seen[r.RequestID.Raw()] = struct{}{}
			merged = append(merged, r)
		}
	}

	tmp, err := os.CreateTemp("", "webindex-defrag-meta-*.parquet")
	if err != nil {
		return wxerr.Internal("create temp file", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	stats, err := codec.WriteMetadataFile(tmpPath, merged)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(tmpPath)
	if err != nil {
		return wxerr.Internal("read temp file", err)
	}

	canonicalKey := CanonicalLogicalPath(k.Stream, k.Year, k.Month, k.Domain).String()
	oldKeys := withSidecars(fileKeys, canonicalKey)
	if err := m.store.ReplaceAtomically(ctx, oldKeys, canonicalKey, body); err != nil {
		return err
	}
	m.invalidateCached(oldKeys)
	m.cache.Invalidate(canonicalKey)

	sidecar, err := codec.BuildSidecar(stats)
	if err != nil {
		return err
	}
	sidecarBody, err := marshalSidecar(sidecar)
	if err != nil {
		return err
	}
	return m.store.ReplaceAtomically(ctx, nil, codec.SidecarPath(canonicalKey), sidecarBody)
}

func (m *Manager) invalidateCached(keys []string) {
	for _, k := range keys {
		m.cache.Invalidate(k)
	}
}

// shouldSkip loads key's sidecar (if any) and reports whether pred rules
// out every row in the file without opening it. A missing or unreadable
// sidecar is not fatal — it just forfeits the push-down for that file.
func (m *Manager) shouldSkip(ctx context.Context, key string, pred codec.Predicate) (bool, error) {
	body, err := m.store.Get(ctx, codec.SidecarPath(key))
	if err != nil {
		return false, nil
	}
	var sc codec.Sidecar
	if err := json.Unmarshal(body, &sc); err != nil {
		return false, nil
	}
	return pred.Skip(sc), nil
}

func (m *Manager) readDataFile(ctx context.Context, key string, pred codec.Predicate) ([]wmodel.DataRow, error) {
	localPath, cleanup, err := m.downloadToTemp(ctx, key, "webindex-read-data-*.parquet")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return codec.ScanDataFile(localPath, pred)
}

func (m *Manager) readMetadataFile(ctx context.Context, key string, pred codec.Predicate) ([]wmodel.MetadataRow, error) {
	localPath, cleanup, err := m.downloadToTemp(ctx, key, "webindex-read-meta-*.parquet")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return codec.ScanMetadataFile(localPath, pred)
}

func (m *Manager) downloadToTemp(ctx context.Context, key, pattern string) (string, func(), error) {
	body, ok := m.cache.Get(key)
	if !ok {
		fetched, err := m.store.Get(ctx, key)
		if err != nil {
			return "", func() {}, err
		}
		body = fetched
		m.cache.Put(key, body)
	}
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", func() {}, wxerr.Internal("create temp file", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(path)
		return "", func() {}, wxerr.Internal("write temp file", err)
	}
	tmp.Close()
	return path, func() { os.Remove(path) }, nil
}

func filterSidecars(keys []string) []string {
	var out []string
	for _, k := range keys {
		if !isSidecarKey(k) {
			out = append(out, k)
		}
	}
	return out
}

func isSidecarKey(k string) bool {
	return len(k) > len(".stats.json") && k[len(k)-len(".stats.json"):] == ".stats.json"
}

// withSidecars lists fileKeys and their sidecars as the keys a
// defragment deletes, leaving out keep (the canonical key being
// rewritten in place) but not keep's now-stale sidecar.
func withSidecars(fileKeys []string, keep string) []string {
	out := make([]string, 0, len(fileKeys)*2)
	for _, k := range fileKeys {
		if k != keep {
			out = append(out, k)
		}
		out = append(out, codec.SidecarPath(k))
	}
	return out
}

func marshalSidecar(sc codec.Sidecar) ([]byte, error) {
	body, err := json.Marshal(sc)
	if err != nil {
		return nil, wxerr.Internal("marshal sidecar", err)
	}
	return body, nil
}

func sortDataRows(rows []wmodel.DataRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].RequestID.Less(rows[j].RequestID)
	})
}
