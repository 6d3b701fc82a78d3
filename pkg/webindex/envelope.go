package webindex

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/webindex/webindex/internal/query"
	"github.com/webindex/webindex/internal/wmodel"
)

// queryEnvelope is the flat, kind-discriminated JSON record of spec §6
// ("Query envelope (serialized form)"): field names lowercase with
// underscores, timestamps ISO 8601 with explicit offset, optional
// fields omitted when unset.
type queryEnvelope struct {
	Kind          string     `json:"kind"`
	Stream        string     `json:"stream"`
	URL           string     `json:"url"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	RequestID     string     `json:"request_id,omitempty"`
	Calibre       *uint8     `json:"calibre,omitempty"`
	CalibreStrict bool       `json:"calibre_strict,omitempty"`
	NotBefore     *time.Time `json:"not_before,omitempty"`
	NotAfter      *time.Time `json:"not_after,omitempty"`
	Target        *time.Time `json:"target,omitempty"`
	PresenceOnly  bool       `json:"presence_only,omitempty"`
}

const (
	kindDeterministic = "deterministic"
	kindSimple        = "simple"
	kindTimeBounded   = "time_bounded"
)

// MarshalQueryBatch serializes a query batch to its envelope form for
// callers that want to persist or replay it.
func MarshalQueryBatch(queries []Query) ([]byte, error) {
	envelopes := make([]queryEnvelope, len(queries))
	for i, q := range queries {
		e, err := toEnvelope(q)
		if err != nil {
			return nil, fmt.Errorf("webindex: marshal query %d: %w", i, err)
		}
		envelopes[i] = e
	}
	return json.Marshal(envelopes)
}

// UnmarshalQueryBatch parses a query batch previously produced by
// MarshalQueryBatch.
func UnmarshalQueryBatch(data []byte) ([]Query, error) {
	var envelopes []queryEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("webindex: unmarshal query batch: %w", err)
	}
	queries := make([]Query, len(envelopes))
	for i, e := range envelopes {
		q, err := fromEnvelope(e)
		if err != nil {
			return nil, fmt.Errorf("webindex: query %d: %w", i, err)
		}
		queries[i] = q
	}
	return queries, nil
}

func toEnvelope(q Query) (queryEnvelope, error) {
	e := queryEnvelope{
		Stream:        string(q.Stream),
		URL:           q.URL,
		CalibreStrict: q.CalibreStrict,
		PresenceOnly:  q.PresenceOnly,
	}
	if q.Calibre != nil {
		v := uint8(*q.Calibre)
		e.Calibre = &v
	}

	switch q.Kind {
	case query.KindDeterministic:
		e.Kind = kindDeterministic
		e.Timestamp = &q.Timestamp
		e.RequestID = q.RequestID
	case query.KindSimple:
		e.Kind = kindSimple
	case query.KindTimeBounded:
		e.Kind = kindTimeBounded
		e.NotBefore = &q.NotBefore
		e.NotAfter = &q.NotAfter
		e.Target = &q.Target
	default:
		return queryEnvelope{}, fmt.Errorf("unknown query kind %v", q.Kind)
	}
	return e, nil
}

func fromEnvelope(e queryEnvelope) (Query, error) {
	q := Query{
		Stream:        wmodel.Stream(e.Stream),
		URL:           e.URL,
		CalibreStrict: e.CalibreStrict,
		PresenceOnly:  e.PresenceOnly,
	}
	if e.Calibre != nil {
		c := wmodel.Calibre(*e.Calibre)
		q.Calibre = &c
	}

	switch e.Kind {
	case kindDeterministic:
		q.Kind = query.KindDeterministic
		if e.Timestamp == nil {
			return Query{}, fmt.Errorf("deterministic query missing timestamp")
		}
		q.Timestamp = *e.Timestamp
		q.RequestID = e.RequestID
	case kindSimple:
		q.Kind = query.KindSimple
	case kindTimeBounded:
		q.Kind = query.KindTimeBounded
		if e.NotBefore == nil || e.NotAfter == nil || e.Target == nil {
			return Query{}, fmt.Errorf("time-bounded query missing not_before/not_after/target")
		}
		q.NotBefore = *e.NotBefore
		q.NotAfter = *e.NotAfter
		q.Target = *e.Target
	default:
		return Query{}, fmt.Errorf("unknown query kind %q", e.Kind)
	}
	return q, nil
}

// pageEnvelope is the JSON form of a Page result (spec §6 "Page result").
type pageEnvelope struct {
	URL            string         `json:"url"`
	RequestID      string         `json:"request_id"`
	FetcherName    string         `json:"fetcher_name"`
	FetcherVersion string         `json:"fetcher_version"`
	FetcherCalibre uint8          `json:"fetcher_calibre"`
	Hops           []hopEnvelope  `json:"hops"`
}

type hopEnvelope struct {
	RequestURL   string    `json:"request_url"`
	StatusCode   uint16    `json:"status_code"`
	Headers      string    `json:"headers"`
	Data         []byte    `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	RetryAttempt uint8     `json:"retry_attempt"`
	IsFinal      bool      `json:"is_final"`
}

// metadataEnvelope is the JSON form of a Metadata result (spec §6
// "Metadata result").
type metadataEnvelope struct {
	State     string  `json:"state"`
	URL       string  `json:"url"`
	Timestamp string  `json:"timestamp"`
	RequestID string  `json:"request_id"`
	Logs      *string `json:"logs,omitempty"`
	Traceback *string `json:"traceback,omitempty"`
	RunTime   *float64 `json:"run_time,omitempty"`
}

// MarshalResult serializes a single Result to its §6 JSON form: a Page,
// a Metadata, or {"found": false} for no match.
func MarshalResult(r Result) ([]byte, error) {
	switch {
	case r.Err != nil:
		return nil, r.Err
	case r.Page != nil:
		hops := make([]hopEnvelope, len(r.Page.Hops))
		for i, h := range r.Page.Hops {
			hops[i] = hopEnvelope{
				RequestURL:   h.RequestURL,
				StatusCode:   h.StatusCode,
				Headers:      h.Headers,
				Data:         h.Data,
				Timestamp:    h.Timestamp,
				RetryAttempt: h.RetryAttempt,
				IsFinal:      h.IsFinal,
			}
		}
		return json.Marshal(pageEnvelope{
			URL:            r.Page.URL,
			RequestID:      r.Page.RequestID.String(),
			FetcherName:    r.Page.FetcherName,
			FetcherVersion: r.Page.FetcherVersion,
			FetcherCalibre: uint8(r.Page.FetcherCalibre),
			Hops:           hops,
		})
	case r.Metadata != nil:
		return json.Marshal(metadataEnvelope{
			State:     string(r.Metadata.State),
			URL:       r.Metadata.URL,
			Timestamp: r.Metadata.Timestamp.Format(time.RFC3339Nano),
			RequestID: r.Metadata.RequestID.String(),
			Logs:      r.Metadata.Logs,
			Traceback: r.Metadata.Traceback,
			RunTime:   r.Metadata.RunTime,
		})
	default:
		return json.Marshal(struct {
			Found bool `json:"found"`
		}{Found: r.Found})
	}
}
