// Package codec implements the columnar file representation of spec
// §4.2: each partition file (canonical or part) is a small immutable
// SQLite database, one of the two fixed schemas (data, metadata) of
// spec §3, with a companion stats/bloom-filter sidecar for predicate
// push-down.
package codec

// data has no natural key: retry_attempt is a producer-supplied field
// (spec §3), not a per-chain hop ordinal, so two hops of one redirect
// chain can legitimately share both request_id and retry_attempt. The
// table keeps SQLite's implicit rowid as its identity instead of
// declaring a PRIMARY KEY over domain columns.
const dataTableDDL = `
CREATE TABLE data (
	request_id TEXT NOT NULL,
	retry_attempt INTEGER NOT NULL,
	url TEXT NOT NULL,
	request_url TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	data BLOB,
	headers BLOB NOT NULL,
	timestamp_unix_ms INTEGER NOT NULL,
	is_final INTEGER NOT NULL,
	fetcher_name TEXT NOT NULL,
	fetcher_version TEXT NOT NULL,
	fetcher_calibre INTEGER NOT NULL
);
CREATE INDEX idx_data_request_id ON data(request_id);
CREATE INDEX idx_data_url ON data(url);
CREATE INDEX idx_data_timestamp ON data(timestamp_unix_ms);
`

const metadataTableDDL = `
CREATE TABLE metadata (
	request_id TEXT NOT NULL PRIMARY KEY,
	state TEXT NOT NULL,
	url TEXT NOT NULL,
	timestamp_unix_ms INTEGER NOT NULL,
	logs TEXT,
	traceback TEXT,
	run_time REAL
) WITHOUT ROWID;
CREATE INDEX idx_metadata_url ON metadata(url);
CREATE INDEX idx_metadata_timestamp ON metadata(timestamp_unix_ms);
`
