package codec

import (
	"database/sql"
	"fmt"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/webindex/webindex/internal/wmodel"
)

// WriteDataFile writes rows as a new immutable data-schema file at path:
// open in WAL mode for fast bulk insert, then checkpoint and switch to
// DELETE mode so the resulting file carries no WAL/SHM sidecars and is
// safe to treat as a single immutable object once uploaded. data/headers
// are Snappy-compressed before insertion.
func WriteDataFile(path string, rows []wmodel.DataRow) (Stats, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return Stats{}, fmt.Errorf("codec: open %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return Stats{}, fmt.Errorf("codec: set WAL mode: %w", err)
	}
	if _, err := db.Exec(dataTableDDL); err != nil {
		return Stats{}, fmt.Errorf("codec: create data schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO data
		(request_id, retry_attempt, url, request_url, status_code, data, headers,
		 timestamp_unix_ms, is_final, fetcher_name, fetcher_version, fetcher_calibre)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Stats{}, fmt.Errorf("codec: prepare insert: %w", err)
	}
	defer stmt.Close()

	tracker := NewDataStatsTracker()
	for _, row := range rows {
		var compressedData []byte
		if row.Data != nil {
			compressedData = snappy.Encode(nil, row.Data)
		}
		compressedHeaders := snappy.Encode(nil, []byte(row.Headers))

		isFinal := 0
		if row.IsFinal {
			isFinal = 1
		}

		if _, err := stmt.Exec(
			row.RequestID.Raw(), row.RetryAttempt, row.URL, row.RequestURL, row.StatusCode,
			compressedData, compressedHeaders, row.Timestamp.UnixMilli(), isFinal,
			row.FetcherName, row.FetcherVersion, uint8(row.FetcherCalibre),
		); err != nil {
			return Stats{}, fmt.Errorf("codec: insert data row: %w", err)
		}
		tracker.Update(row)
	}

	if err := finalizeFile(db); err != nil {
		return Stats{}, err
	}

	return tracker.Stats(), nil
}

// WriteMetadataFile writes rows as a new immutable metadata-schema file
// at path.
func WriteMetadataFile(path string, rows []wmodel.MetadataRow) (Stats, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return Stats{}, fmt.Errorf("codec: open %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return Stats{}, fmt.Errorf("codec: set WAL mode: %w", err)
	}
	if _, err := db.Exec(metadataTableDDL); err != nil {
		return Stats{}, fmt.Errorf("codec: create metadata schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO metadata
		(request_id, state, url, timestamp_unix_ms, logs, traceback, run_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Stats{}, fmt.Errorf("codec: prepare insert: %w", err)
	}
	defer stmt.Close()

	tracker := NewMetadataStatsTracker()
	for _, row := range rows {
		var runTime interface{}
		if row.RunTime != nil {
			runTime = *row.RunTime
		}

		if _, err := stmt.Exec(
			row.RequestID.Raw(), string(row.State), row.URL, row.Timestamp.UnixMilli(),
			nullableString(row.Logs), nullableString(row.Traceback), runTime,
		); err != nil {
			return Stats{}, fmt.Errorf("codec: insert metadata row: %w", err)
		}
		tracker.Update(row)
	}

	if err := finalizeFile(db); err != nil {
		return Stats{}, err
	}

	return tracker.Stats(), nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// finalizeFile checkpoints the WAL into the main file and switches to
// DELETE journal mode so the resulting single file is immutable and has
// no sidecar WAL/SHM state, publishing a partition file exactly once,
// fully flushed.
func finalizeFile(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("codec: checkpoint WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("codec: switch to DELETE mode: %w", err)
	}
	return nil
}
