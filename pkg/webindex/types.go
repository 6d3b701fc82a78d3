// Package webindex is the public Go API of the engine: an append-only,
// object-store-backed columnar index of web-fetch outcomes with a batch
// query planner (spec.md). It wraps internal/objstore, internal/codec,
// internal/partition, internal/query and internal/insert behind a single
// Store interface, the system's only external interface (spec §6).
package webindex

import (
	"github.com/webindex/webindex/internal/insert"
	"github.com/webindex/webindex/internal/query"
	"github.com/webindex/webindex/internal/wmodel"
)

// Data model types, re-exported from internal/wmodel so that callers
// never import an internal package directly.
type (
	Stream        = wmodel.Stream
	RequestID     = wmodel.RequestID
	Calibre       = wmodel.Calibre
	AttemptState  = wmodel.AttemptState
	DataRow       = wmodel.DataRow
	MetadataRow   = wmodel.MetadataRow
	Page          = wmodel.Page
)

// The four append-only streams of spec §3.
const (
	StreamGet          = wmodel.StreamGet
	StreamHead         = wmodel.StreamHead
	StreamGetMetadata  = wmodel.StreamGetMetadata
	StreamHeadMetadata = wmodel.StreamHeadMetadata
)

// Exactly the attempt states of spec §6.
const (
	StateSuccess        = wmodel.StateSuccess
	StateTimeout        = wmodel.StateTimeout
	StateUnreachable    = wmodel.StateUnreachable
	StateSSLError       = wmodel.StateSSLError
	StateLowQuality     = wmodel.StateLowQuality
	StateBlocked        = wmodel.StateBlocked
	StateUnauthorised   = wmodel.StateUnauthorised
	StateRetryableError = wmodel.StateRetryableError
	StateEscalate       = wmodel.StateEscalate
	StateError          = wmodel.StateError
)

// NewRequestID mints a fresh opaque request identifier (spec invariant D2).
func NewRequestID() RequestID { return wmodel.NewRequestID() }

// Query, QueryKind and Result implement the batch query envelope of
// spec §4.4/§6.
type (
	Query     = query.Query
	QueryKind = query.Kind
	Result    = query.Result
)

const (
	KindDeterministic = query.KindDeterministic
	KindSimple        = query.KindSimple
	KindTimeBounded   = query.KindTimeBounded
)

// InsertRequest and DeterministicQuery implement the insert pipeline of
// spec §4.5.
type (
	InsertRequest      = insert.Request
	DeterministicQuery = insert.DeterministicQuery
)
