// Package wmodel holds the data model shared by every layer of the
// engine: streams, data/metadata rows, request identifiers, calibre and
// attempt state, and the query/result envelope of spec §3 and §6.
// pkg/webindex re-exports these as its public API so that internal
// packages (codec, partition, query, insert) can share one definition
// without importing the public package and creating an import cycle.
package wmodel

import (
	"time"

	"github.com/google/uuid"
)

// Stream is one of the four append-only relations of spec §3.
type Stream string

const (
	StreamGet           Stream = "get"
	StreamHead          Stream = "head"
	StreamGetMetadata   Stream = "get-metadata"
	StreamHeadMetadata  Stream = "head-metadata"
)

// IsData reports whether s is a data stream (get/head) as opposed to a
// metadata stream.
func (s Stream) IsData() bool {
	return s == StreamGet || s == StreamHead
}

// IsMetadata reports whether s is a metadata stream.
func (s Stream) IsMetadata() bool {
	return s == StreamGetMetadata || s == StreamHeadMetadata
}

// MetadataStreamFor returns the *-metadata stream paired with a data
// stream, per invariant M1.
func MetadataStreamFor(s Stream) Stream {
	if s == StreamGet {
		return StreamGetMetadata
	}
	return StreamHeadMetadata
}

// DataStreamFor returns the get/head stream paired with a metadata
// stream.
func DataStreamFor(s Stream) Stream {
	if s == StreamGetMetadata {
		return StreamGet
	}
	return StreamHead
}

// RequestID is the opaque attempt identifier of invariant D2: globally
// unique, carrying no externally meaningful structure. Consumers must
// not parse it; String renders it with a "request:" prefix purely so it
// reads distinctly from a bare UUID in logs.
type RequestID struct {
	value string
}

// NewRequestID generates a fresh, globally unique RequestID.
// Deliberately backed by a version-4 UUID (not a sortable identifier
// such as a ULID) since D2 requires opaqueness: nothing about a
// RequestID's bytes may be inferred by a caller.
func NewRequestID() RequestID {
	return RequestID{value: uuid.New().String()}
}

// ParseRequestID parses a previously rendered RequestID, accepting both
// the "request:{uuid}" form produced by String and a bare UUID string.
func ParseRequestID(s string) (RequestID, bool) {
	raw := s
	if len(s) > 8 && s[:8] == "request:" {
		raw = s[8:]
	}
	if _, err := uuid.Parse(raw); err != nil {
		return RequestID{}, false
	}
	return RequestID{value: raw}, true
}

// String renders the RequestID in its canonical displayed form.
func (r RequestID) String() string {
	return "request:" + r.value
}

// Raw returns the bare UUID string underlying r, for use as a storage
// key component; callers outside the engine must still treat it as
// opaque.
func (r RequestID) Raw() string {
	return r.value
}

// IsZero reports whether r is the zero value (unset).
func (r RequestID) IsZero() bool {
	return r.value == ""
}

// Less orders RequestIDs lexicographically by their rendered form, used
// to break timestamp ties per spec §9 Open Question 2 ("lexicographically
// greatest request_id").
func (r RequestID) Less(other RequestID) bool {
	return r.value < other.value
}

// Calibre is the unsigned 8-bit probability-of-success ladder of spec
// §3: 0 unknown, 100 reserved, 1..99 ordered.
type Calibre uint8

// Matches reports whether the row's calibre satisfies a query's optional
// calibre filter under the requested strictness.
func Matches(rowCalibre Calibre, want *Calibre, strict bool) bool {
	if want == nil {
		return true
	}
	if strict {
		return rowCalibre == *want
	}
	return rowCalibre >= *want
}

// AttemptState is one of the exact values of spec §6.
type AttemptState string

const (
	StateSuccess        AttemptState = "success"
	StateTimeout        AttemptState = "timeout"
	StateUnreachable    AttemptState = "unreachable"
	StateSSLError       AttemptState = "ssl-error"
	StateLowQuality     AttemptState = "low-quality"
	StateBlocked        AttemptState = "blocked"
	StateUnauthorised   AttemptState = "unauthorised"
	StateRetryableError AttemptState = "retryable-error"
	StateEscalate       AttemptState = "escalate"
	StateError          AttemptState = "error"
)

// DataRow is one hop of one attempt in the get/head streams (spec §3).
type DataRow struct {
	URL            string
	RequestURL     string
	StatusCode     uint16
	Data           []byte // absent (nil) for head
	Headers        string // JSON-serialized
	Timestamp      time.Time
	RetryAttempt   uint8
	IsFinal        bool
	RequestID      RequestID
	FetcherName    string
	FetcherVersion string
	FetcherCalibre Calibre
}

// MetadataRow is the single per-attempt record in the *-metadata streams
// (spec §3).
type MetadataRow struct {
	State     AttemptState
	URL       string
	Timestamp time.Time
	RequestID RequestID
	Logs      *string
	Traceback *string
	RunTime   *float64
}

// Page is the full assembled chain of a data-stream attempt (spec §6):
// ordered hops plus a convenience alias for the final hop.
type Page struct {
	URL            string
	RequestID      RequestID
	FetcherName    string
	FetcherVersion string
	FetcherCalibre Calibre
	Hops           []DataRow // sorted by Timestamp ascending; last is final

	FinalStatusCode uint16
	FinalHeaders    string
	FinalData       []byte
}
