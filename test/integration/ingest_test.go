// Package integration exercises the webindex engine end to end: insert
// through a webindex.Store backed by a local object store, then read
// the result back out.
package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/pkg/webindex"
)

func newTestStore(t *testing.T) webindex.Store {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "webindex-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	cfg := config.DefaultConfig()
	cfg.Bucket = "test"
	cfg.Storage.Path = tempDir

	store, err := webindex.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

// TestInsertThenDeterministicRead covers S1: a single-hop get attempt
// resolves via its own deterministic query to the exact Page inserted.
func TestInsertThenDeterministicRead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)
	result, err := store.Insert(ctx, webindex.InsertRequest{
		Type:      webindex.StreamGet,
		URL:       "http://example.com/",
		Timestamp: ts,
		Metadata: webindex.MetadataRow{
			State: webindex.StateSuccess,
		},
		DataRows: []webindex.DataRow{
			{
				RequestURL:     "http://example.com/",
				StatusCode:     200,
				Headers:        `{"content-type":"text/html"}`,
				IsFinal:        true,
				FetcherName:    "crawler",
				FetcherVersion: "1.0",
				FetcherCalibre: 50,
			},
		},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if result.RequestID == "" {
		t.Fatalf("expected a non-empty request_id")
	}

	results, err := store.QueryBatch(ctx, []webindex.Query{
		{
			Kind:      webindex.KindDeterministic,
			Stream:    webindex.StreamGet,
			URL:       "http://example.com/",
			Timestamp: ts,
			RequestID: result.RequestID,
		},
	})
	if err != nil {
		t.Fatalf("query batch failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	page := results[0].Page
	if page == nil {
		t.Fatalf("expected a page, got %+v", results[0])
	}
	if page.FinalStatusCode != 200 || page.FetcherCalibre != 50 || len(page.Hops) != 1 {
		t.Fatalf("unexpected page contents: %+v", page)
	}
}

// TestRedirectChainOrdering covers S2: two hops sharing one request_id
// come back ordered by timestamp, with the 200 hop last and final.
func TestRedirectChainOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)
	result, err := store.Insert(ctx, webindex.InsertRequest{
		Type:      webindex.StreamGet,
		URL:       "http://a/",
		Timestamp: ts,
		Metadata:  webindex.MetadataRow{State: webindex.StateSuccess},
		DataRows: []webindex.DataRow{
			{
				RequestURL: "http://a/",
				StatusCode: 301,
				Headers:    `{"location":"http://b/"}`,
				IsFinal:    false,
				Timestamp:  ts,
			},
			{
				RequestURL: "http://b/",
				StatusCode: 200,
				Headers:    `{"content-type":"text/html"}`,
				IsFinal:    true,
				Timestamp:  ts.Add(100 * time.Millisecond),
			},
		},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	results, err := store.QueryBatch(ctx, []webindex.Query{
		{
			Kind:      webindex.KindDeterministic,
			Stream:    webindex.StreamGet,
			URL:       "http://a/",
			Timestamp: ts,
			RequestID: result.RequestID,
		},
	})
	if err != nil {
		t.Fatalf("query batch failed: %v", err)
	}
	page := results[0].Page
	if page == nil || len(page.Hops) != 2 {
		t.Fatalf("expected a 2-hop page, got %+v", results[0])
	}
	if page.Hops[0].StatusCode != 301 || page.Hops[1].StatusCode != 200 {
		t.Fatalf("expected hops ordered 301 then 200, got %d then %d", page.Hops[0].StatusCode, page.Hops[1].StatusCode)
	}
	if page.FinalStatusCode != 200 {
		t.Fatalf("expected final status 200, got %d", page.FinalStatusCode)
	}
}

// TestFailedAttemptHasNoDataButHasMetadata covers S5: a zero-hop attempt
// has no data to retrieve but its metadata row is still readable.
func TestFailedAttemptHasNoDataButHasMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)
	result, err := store.Insert(ctx, webindex.InsertRequest{
		Type:      webindex.StreamGet,
		URL:       "http://blocked.example/",
		Timestamp: ts,
		Metadata:  webindex.MetadataRow{State: webindex.StateBlocked},
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	results, err := store.QueryBatch(ctx, []webindex.Query{
		{
			Kind:      webindex.KindDeterministic,
			Stream:    webindex.StreamGet,
			URL:       "http://blocked.example/",
			Timestamp: ts,
			RequestID: result.RequestID,
		},
		{
			Kind:      webindex.KindDeterministic,
			Stream:    webindex.StreamGetMetadata,
			URL:       "http://blocked.example/",
			Timestamp: ts,
			RequestID: result.RequestID,
		},
	})
	if err != nil {
		t.Fatalf("query batch failed: %v", err)
	}
	if results[0].Found || results[0].Page != nil {
		t.Fatalf("expected no data match, got %+v", results[0])
	}
	if results[1].Metadata == nil || results[1].Metadata.State != webindex.StateBlocked {
		t.Fatalf("expected blocked metadata, got %+v", results[1])
	}
}
