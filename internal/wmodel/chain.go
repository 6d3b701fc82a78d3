package wmodel

import (
	"sort"

	"github.com/webindex/webindex/internal/wxerr"
)

// AssembleChain implements spec §4.4.5: sort hops by timestamp ascending,
// verify exactly one is_final hop and that it is last, and emit the
// Page. hops must all share one request_id; the caller is responsible
// for that grouping.
func AssembleChain(hops []DataRow) (Page, error) {
	if len(hops) == 0 {
		return Page{}, wxerr.Chain("empty chain")
	}

	sorted := make([]DataRow, len(hops))
	copy(sorted, hops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	finalCount := 0
	finalIdx := -1
	for i, h := range sorted {
		if h.IsFinal {
			finalCount++
			finalIdx = i
		}
	}

	if finalCount != 1 {
		return Page{}, wxerr.Chain("expected exactly one is_final hop")
	}
	if finalIdx != len(sorted)-1 {
		return Page{}, wxerr.Chain("is_final hop is not the latest by timestamp")
	}

	final := sorted[finalIdx]
	return Page{
		URL:             final.URL,
		RequestID:       final.RequestID,
		FetcherName:     final.FetcherName,
		FetcherVersion:  final.FetcherVersion,
		FetcherCalibre:  final.FetcherCalibre,
		Hops:            sorted,
		FinalStatusCode: final.StatusCode,
		FinalHeaders:    final.Headers,
		FinalData:       final.Data,
	}, nil
}

// ValidateD1 checks invariant D1 at insert time: for a non-empty rows,
// exactly one carries is_final = true and it has the greatest timestamp
// (ties broken by insert order, i.e. its position in rows: no later row
// may share its timestamp). It does not compare request_ids.
func ValidateD1(rows []DataRow) error {
	if len(rows) == 0 {
		return nil
	}

	finalCount := 0
	finalIdx := -1
	maxTS := rows[0].Timestamp
	for i, r := range rows {
		if r.IsFinal {
			finalCount++
			finalIdx = i
		}
		if r.Timestamp.After(maxTS) {
			maxTS = r.Timestamp
		}
	}

	if finalCount != 1 {
		return wxerr.Structural(wxerr.CodeChainViolation, "exactly one row must have is_final=true")
	}
	if rows[finalIdx].Timestamp.Before(maxTS) {
		return wxerr.Structural(wxerr.CodeChainViolation, "is_final row must have the greatest timestamp")
	}
	for _, r := range rows[finalIdx+1:] {
		if r.Timestamp.Equal(rows[finalIdx].Timestamp) {
			return wxerr.Structural(wxerr.CodeChainViolation, "is_final row must come last among rows sharing its timestamp")
		}
	}
	return nil
}
