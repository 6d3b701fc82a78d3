// Package property runs spec §8's property tests against a
// webindex.Store backed by a local object store: insert/read round
// trip, determinism, calibre monotonicity, time-window closure, chain
// integrity, and defragmentation's effect on M1 and idempotence.
package property

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/pkg/webindex"
)

func newStore(t *testing.T) webindex.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "webindex-prop-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultConfig()
	cfg.Bucket = "prop"
	cfg.Storage.Path = dir

	store, err := webindex.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func insertOneHop(t *testing.T, store webindex.Store, url string, ts time.Time, calibre uint8, statusCode uint16) webindex.DeterministicQuery {
	t.Helper()
	dq, err := store.Insert(context.Background(), webindex.InsertRequest{
		Type:      webindex.StreamGet,
		URL:       url,
		Timestamp: ts,
		Metadata:  webindex.MetadataRow{State: webindex.StateSuccess},
		DataRows: []webindex.DataRow{
			{
				RequestURL:     url,
				StatusCode:     statusCode,
				Headers:        `{"x":"y"}`,
				IsFinal:        true,
				FetcherName:    "propcrawler",
				FetcherVersion: "1.0",
				FetcherCalibre: webindex.Calibre(calibre),
			},
		},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return dq
}

// TestProperty_InsertReadRoundTrip validates invariant 1: a successful
// insert's own deterministic query returns a Page equal to the payload,
// modulo request_id assignment.
func TestProperty_InsertReadRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("insert then deterministic read returns the inserted page", prop.ForAll(
		func(host string, day int, calibre uint8, statusCode uint16) bool {
			store := newStore(t)
			url := fmt.Sprintf("http://%s.example/", host)
			ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day)

			dq := insertOneHop(t, store, url, ts, calibre%101, statusCode)

			results, err := store.QueryBatch(context.Background(), []webindex.Query{
				{Kind: webindex.KindDeterministic, Stream: webindex.StreamGet, URL: url, Timestamp: ts, RequestID: dq.RequestID},
			})
			if err != nil || len(results) != 1 || results[0].Page == nil {
				return false
			}
			p := results[0].Page
			return p.FinalStatusCode == statusCode &&
				p.FetcherCalibre == webindex.Calibre(calibre%101) &&
				len(p.Hops) == 1 &&
				p.Hops[0].RequestURL == url
		},
		gen.RegexMatch(`^[a-z]{3,10}$`),
		gen.IntRange(0, 300),
		gen.UInt8Range(0, 100),
		gen.UInt16Range(100, 599),
	))

	properties.TestingRun(t)
}

// TestProperty_Determinism validates invariant 2: the same deterministic
// query, executed twice, returns byte-identical results.
func TestProperty_Determinism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("repeating a deterministic query returns identical bytes", prop.ForAll(
		func(host string, calibre uint8) bool {
			store := newStore(t)
			url := fmt.Sprintf("http://%s.example/", host)
			ts := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

			dq := insertOneHop(t, store, url, ts, calibre, 200)
			q := []webindex.Query{
				{Kind: webindex.KindDeterministic, Stream: webindex.StreamGet, URL: url, Timestamp: ts, RequestID: dq.RequestID},
			}

			r1, err := store.QueryBatch(context.Background(), q)
			if err != nil {
				return false
			}
			r2, err := store.QueryBatch(context.Background(), q)
			if err != nil {
				return false
			}
			if r1[0].Page == nil || r2[0].Page == nil {
				return false
			}
			return r1[0].Page.FinalStatusCode == r2[0].Page.FinalStatusCode &&
				r1[0].Page.FetcherCalibre == r2[0].Page.FetcherCalibre &&
				r1[0].Page.Hops[0].Timestamp.Equal(r2[0].Page.Hops[0].Timestamp)
		},
		gen.RegexMatch(`^[a-z]{3,10}$`),
		gen.UInt8Range(0, 100),
	))

	properties.TestingRun(t)
}

// TestProperty_CalibreMonotonicity validates invariant 3: with
// calibre_strict = false every returned row's calibre is >= the floor;
// with calibre_strict = true every returned row's calibre equals it
// exactly.
func TestProperty_CalibreMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("simple query with calibre floor only returns rows meeting it", prop.ForAll(
		func(calibres []uint8, floor uint8, strict bool) bool {
			if len(calibres) == 0 {
				return true
			}
			store := newStore(t)
			url := "http://monotone.example/"
			base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
			for i, c := range calibres {
				insertOneHop(t, store, url, base.Add(time.Duration(i)*time.Hour), c, 200)
			}

			cal := webindex.Calibre(floor)
			results, err := store.QueryBatch(context.Background(), []webindex.Query{
				{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: url, Calibre: &cal, CalibreStrict: strict},
			})
			if err != nil {
				return false
			}
			if results[0].Page == nil {
				return true // no survivor is consistent with the invariant
			}
			got := uint8(results[0].Page.FetcherCalibre)
			if strict {
				return got == floor
			}
			return got >= floor
		},
		gen.SliceOfN(6, gen.UInt8Range(0, 100)),
		gen.UInt8Range(0, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestProperty_TimeWindowClosure validates invariant 4: a time-bounded
// query never returns a row with timestamp outside [not_before, not_after].
func TestProperty_TimeWindowClosure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("time-bounded results always fall within the window", prop.ForAll(
		func(offsets []int, notBeforeOffset, windowLen int) bool {
			if len(offsets) == 0 || windowLen <= 0 {
				return true
			}
			store := newStore(t)
			url := "http://windowed.example/"
			base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			for _, off := range offsets {
				insertOneHop(t, store, url, base.Add(time.Duration(off)*time.Hour), 50, 200)
			}

			notBefore := base.Add(time.Duration(notBeforeOffset) * time.Hour)
			notAfter := notBefore.Add(time.Duration(windowLen) * time.Hour)
			target := notBefore.Add(time.Duration(windowLen/2) * time.Hour)

			results, err := store.QueryBatch(context.Background(), []webindex.Query{
				{Kind: webindex.KindTimeBounded, Stream: webindex.StreamGet, URL: url, NotBefore: notBefore, NotAfter: notAfter, Target: target},
			})
			if err != nil {
				return false
			}
			if results[0].Page == nil {
				return true
			}
			ts := results[0].Page.Hops[0].Timestamp
			return !ts.Before(notBefore) && !ts.After(notAfter)
		},
		gen.SliceOfN(8, gen.IntRange(-200, 200)),
		gen.IntRange(-200, 200),
		gen.IntRange(1, 48),
	))

	properties.TestingRun(t)
}

// TestProperty_ChainIntegrity validates invariant 5: every returned
// Page has exactly one is_final hop and it has the greatest timestamp.
func TestProperty_ChainIntegrity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("assembled chains have exactly one final hop, at the latest timestamp", prop.ForAll(
		func(hopCount uint8) bool {
			n := int(hopCount%4) + 1
			store := newStore(t)
			url := "http://chained.example/"
			ts := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

			rows := make([]webindex.DataRow, n)
			for i := 0; i < n; i++ {
				rows[i] = webindex.DataRow{
					RequestURL:     fmt.Sprintf("http://hop-%d.example/", i),
					StatusCode:     301,
					Headers:        `{}`,
					IsFinal:        i == n-1,
					Timestamp:      ts.Add(time.Duration(i) * time.Second),
					FetcherCalibre: 50,
				}
			}
			rows[n-1].StatusCode = 200

			dq, err := store.Insert(context.Background(), webindex.InsertRequest{
				Type:      webindex.StreamGet,
				URL:       url,
				Timestamp: ts,
				Metadata:  webindex.MetadataRow{State: webindex.StateSuccess},
				DataRows:  rows,
			})
			if err != nil {
				return false
			}

			results, err := store.QueryBatch(context.Background(), []webindex.Query{
				{Kind: webindex.KindDeterministic, Stream: webindex.StreamGet, URL: url, Timestamp: ts, RequestID: dq.RequestID},
			})
			if err != nil || results[0].Page == nil {
				return false
			}
			p := results[0].Page
			finalCount := 0
			finalIdx := -1
			for i, h := range p.Hops {
				if h.IsFinal {
					finalCount++
					finalIdx = i
				}
			}
			return finalCount == 1 && finalIdx == len(p.Hops)-1
		},
		gen.UInt8Range(0, 255),
	))

	properties.TestingRun(t)
}

// TestProperty_M1AfterCoalescence validates invariant 6: after
// defragmenting both the data and metadata partitions of a stream, the
// number of distinct request_ids in the metadata stream is at least the
// number in the data stream.
func TestProperty_M1AfterCoalescence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("metadata request_id count never falls below data request_id count after defrag", prop.ForAll(
		func(successCount, failureCount uint8) bool {
			nSuccess := int(successCount%5) + 1
			nFailure := int(failureCount % 5)
			store := newStore(t)
			url := "http://coalesced.example/"
			base := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
			year, month := base.Year(), int(base.Month())

			var dataIDs, metadataIDs []string
			for i := 0; i < nSuccess; i++ {
				dq := insertOneHop(t, store, url, base.Add(time.Duration(i)*time.Hour), 50, 200)
				dataIDs = append(dataIDs, dq.RequestID)
				metadataIDs = append(metadataIDs, dq.RequestID)
			}
			for i := 0; i < nFailure; i++ {
				ts := base.Add(time.Duration(nSuccess+i) * time.Hour)
				dq, err := store.Insert(context.Background(), webindex.InsertRequest{
					Type:      webindex.StreamGet,
					URL:       url,
					Timestamp: ts,
					Metadata:  webindex.MetadataRow{State: webindex.StateBlocked},
				})
				if err != nil {
					return false
				}
				metadataIDs = append(metadataIDs, dq.RequestID)
			}

			if err := store.Defragment(context.Background(), webindex.StreamGet, year, month, "coalesced.example"); err != nil {
				return false
			}
			if err := store.Defragment(context.Background(), webindex.StreamGetMetadata, year, month, "coalesced.example"); err != nil {
				return false
			}

			countPresent := func(stream webindex.Stream, ids []string) int {
				queries := make([]webindex.Query, len(ids))
				for i, id := range ids {
					queries[i] = webindex.Query{Kind: webindex.KindDeterministic, Stream: stream, URL: url, Timestamp: base, RequestID: id}
				}
				results, err := store.QueryBatch(context.Background(), queries)
				if err != nil {
					return -1
				}
				n := 0
				for _, r := range results {
					if r.Found {
						n++
					}
				}
				return n
			}

			dataFound := countPresent(webindex.StreamGet, dataIDs)
			metadataFound := countPresent(webindex.StreamGetMetadata, metadataIDs)
			return dataFound == nSuccess && metadataFound >= dataFound
		},
		gen.UInt8Range(1, 5),
		gen.UInt8Range(0, 5),
	))

	properties.TestingRun(t)
}

// TestIdempotentCoalescence validates invariant 7: running defragmentation
// twice in succession on a partition leaves the same query-visible
// result: a simple query returns the same latest page after each run.
func TestIdempotentCoalescence(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	url := "http://idempotent.example/"
	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		insertOneHop(t, store, url, base.Add(time.Duration(i)*time.Hour), 50, 200)
	}

	if err := store.Defragment(ctx, webindex.StreamGet, base.Year(), int(base.Month()), "idempotent.example"); err != nil {
		t.Fatalf("first defrag: %v", err)
	}
	first, err := store.QueryBatch(ctx, []webindex.Query{
		{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: url},
	})
	if err != nil {
		t.Fatalf("query after first defrag: %v", err)
	}

	// A second defrag on an already-canonical partition (one file, below
	// defrag_min_parts) is a no-op per spec §4.3 step 2.
	if err := store.Defragment(ctx, webindex.StreamGet, base.Year(), int(base.Month()), "idempotent.example"); err != nil {
		t.Fatalf("second defrag: %v", err)
	}
	second, err := store.QueryBatch(ctx, []webindex.Query{
		{Kind: webindex.KindSimple, Stream: webindex.StreamGet, URL: url},
	})
	if err != nil {
		t.Fatalf("query after second defrag: %v", err)
	}

	if first[0].Page == nil || second[0].Page == nil {
		t.Fatalf("expected a page after both defrags, got %+v / %+v", first[0], second[0])
	}
	if !first[0].Page.Hops[0].Timestamp.Equal(second[0].Page.Hops[0].Timestamp) {
		t.Fatalf("defrag was not idempotent: %v vs %v", first[0].Page.Hops[0].Timestamp, second[0].Page.Hops[0].Timestamp)
	}
}
