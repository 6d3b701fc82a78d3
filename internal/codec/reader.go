package codec

import (
	"database/sql"
	"strings"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/webindex/webindex/internal/wmodel"
	"github.com/webindex/webindex/internal/wxerr"
)

// Predicate is a conjunctive filter over the columns spec §4.2 names for
// predicate push-down: url, timestamp, fetcher_calibre, is_final, plus
// request_id for the deterministic query.
type Predicate struct {
	URL          *string
	RequestID    *string
	TimestampMin *time.Time
	TimestampMax *time.Time
	Calibre      *wmodel.Calibre
	CalibreStrict bool
	IsFinal      *bool
}

// Skip reports whether a file whose sidecar statistics are sc can be
// skipped entirely without opening it, i.e. no row in the file could
// possibly satisfy p.
func (p Predicate) Skip(sc Sidecar) bool {
	if p.TimestampMin != nil && sc.MaxTimestampUnixMs < p.TimestampMin.UnixMilli() {
		return true
	}
	if p.TimestampMax != nil && sc.MinTimestampUnixMs > p.TimestampMax.UnixMilli() {
		return true
	}
	if p.Calibre != nil {
		want := uint8(*p.Calibre)
		if p.CalibreStrict {
			if want < sc.MinCalibre || want > sc.MaxCalibre {
				return true
			}
		} else if sc.MaxCalibre < want {
			return true
		}
	}
	if p.IsFinal != nil {
		if *p.IsFinal && !sc.HasFinalTrue {
			return true
		}
		if !*p.IsFinal && !sc.HasFinalFalse {
			return true
		}
	}
	if p.URL != nil {
		if present, err := sc.MightContainURL(*p.URL); err == nil && !present {
			return true
		}
	}
	return false
}

// ScanDataFile opens a data-schema file at path and returns every row
// matching p. A file that fails to open or whose schema doesn't match
// is reported as a corrupt partition per spec §4.2's failure semantics.
func ScanDataFile(path string, p Predicate) ([]wmodel.DataRow, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "open data file "+path, err)
	}
	defer db.Close()

	query, args := buildDataQuery(p)
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, wxerr.Corruption(wxerr.CodeSchemaMismatch, "query data file "+path, err)
	}
	defer rows.Close()

	var out []wmodel.DataRow
	for rows.Next() {
		var (
			requestID, url, requestURL, fetcherName, fetcherVersion string
			retryAttempt, statusCode, calibre                       int
			isFinalInt                                              int
			tsMs                                                    int64
			data, headers                                           []byte
		)
		if err := rows.Scan(&requestID, &retryAttempt, &url, &requestURL, &statusCode,
			&data, &headers, &tsMs, &isFinalInt, &fetcherName, &fetcherVersion, &calibre); err != nil {
			return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "scan data row in "+path, err)
		}

		decodedHeaders, err := snappy.Decode(nil, headers)
		if err != nil {
			return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "decode headers in "+path, err)
		}
		var decodedData []byte
		if len(data) > 0 {
			decodedData, err = snappy.Decode(nil, data)
			if err != nil {
				return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "decode body in "+path, err)
			}
		}

		rid, _ := wmodel.ParseRequestID(requestID)
		out = append(out, wmodel.DataRow{
			URL:            url,
			RequestURL:     requestURL,
			StatusCode:     uint16(statusCode),
			Data:           decodedData,
			Headers:        string(decodedHeaders),
			Timestamp:      time.UnixMilli(tsMs).UTC(),
			RetryAttempt:   uint8(retryAttempt),
			IsFinal:        isFinalInt != 0,
			RequestID:      rid,
			FetcherName:    fetcherName,
			FetcherVersion: fetcherVersion,
			FetcherCalibre: wmodel.Calibre(calibre),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "iterate data file "+path, err)
	}
	return out, nil
}

// ScanMetadataFile opens a metadata-schema file at path and returns
// every row matching p.
func ScanMetadataFile(path string, p Predicate) ([]wmodel.MetadataRow, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "open metadata file "+path, err)
	}
	defer db.Close()

	query, args := buildMetadataQuery(p)
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, wxerr.Corruption(wxerr.CodeSchemaMismatch, "query metadata file "+path, err)
	}
	defer rows.Close()

	var out []wmodel.MetadataRow
	for rows.Next() {
		var (
			requestID, state, url                 string
			tsMs                                   int64
			logs, traceback                        sql.NullString
			runTime                                sql.NullFloat64
		)
		if err := rows.Scan(&requestID, &state, &url, &tsMs, &logs, &traceback, &runTime); err != nil {
			return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "scan metadata row in "+path, err)
		}

		rid, _ := wmodel.ParseRequestID(requestID)
		row := wmodel.MetadataRow{
			State:     wmodel.AttemptState(state),
			URL:       url,
			Timestamp: time.UnixMilli(tsMs).UTC(),
			RequestID: rid,
		}
		if logs.Valid {
			v := logs.String
			row.Logs = &v
		}
		if traceback.Valid {
			v := traceback.String
			row.Traceback = &v
		}
		if runTime.Valid {
			v := runTime.Float64
			row.RunTime = &v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wxerr.Corruption(wxerr.CodeCorruptFile, "iterate metadata file "+path, err)
	}
	return out, nil
}

func buildDataQuery(p Predicate) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if p.RequestID != nil {
		clauses = append(clauses, "request_id = ?")
		args = append(args, *p.RequestID)
	}
	if p.URL != nil {
		clauses = append(clauses, "url = ?")
		args = append(args, *p.URL)
	}
	if p.TimestampMin != nil {
		clauses = append(clauses, "timestamp_unix_ms >= ?")
		args = append(args, p.TimestampMin.UnixMilli())
	}
	if p.TimestampMax != nil {
		clauses = append(clauses, "timestamp_unix_ms <= ?")
		args = append(args, p.TimestampMax.UnixMilli())
	}
	if p.Calibre != nil {
		if p.CalibreStrict {
			clauses = append(clauses, "fetcher_calibre = ?")
		} else {
			clauses = append(clauses, "fetcher_calibre >= ?")
		}
		args = append(args, uint8(*p.Calibre))
	}
	if p.IsFinal != nil {
		v := 0
		if *p.IsFinal {
			v = 1
		}
		clauses = append(clauses, "is_final = ?")
		args = append(args, v)
	}

	query := "SELECT request_id, retry_attempt, url, request_url, status_code, data, headers, timestamp_unix_ms, is_final, fetcher_name, fetcher_version, fetcher_calibre FROM data"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query, args
}

func buildMetadataQuery(p Predicate) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if p.RequestID != nil {
		clauses = append(clauses, "request_id = ?")
		args = append(args, *p.RequestID)
	}
	if p.URL != nil {
		clauses = append(clauses, "url = ?")
		args = append(args, *p.URL)
	}
	if p.TimestampMin != nil {
		clauses = append(clauses, "timestamp_unix_ms >= ?")
		args = append(args, p.TimestampMin.UnixMilli())
	}
	if p.TimestampMax != nil {
		clauses = append(clauses, "timestamp_unix_ms <= ?")
		args = append(args, p.TimestampMax.UnixMilli())
	}

	query := "SELECT request_id, state, url, timestamp_unix_ms, logs, traceback, run_time FROM metadata"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query, args
}
