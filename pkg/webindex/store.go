package webindex

import (
	"context"
	"fmt"
	"time"

	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/internal/insert"
	"github.com/webindex/webindex/internal/objstore"
	"github.com/webindex/webindex/internal/observability"
	"github.com/webindex/webindex/internal/partition"
	"github.com/webindex/webindex/internal/query"
	"github.com/webindex/webindex/internal/wxerr"
)

// Store is the library entry point (spec §6): insert one attempt, answer
// a batch of retrieval queries, or defragment one partition on demand.
type Store interface {
	Insert(ctx context.Context, req InsertRequest) (DeterministicQuery, error)
	QueryBatch(ctx context.Context, queries []Query) ([]Result, error)
	Defragment(ctx context.Context, stream Stream, year, month int, domain string) error
	// Stats exposes per-query-kind latency and hit-rate counters for an
	// operator dashboard or periodic log line.
	Stats() map[string]observability.KindStats
}

// defaultDefragLeaseTTL bounds how long a crashed defrag holder's lease
// blocks a retry before a fresh Defragment call can proceed.
const defaultDefragLeaseTTL = 5 * time.Minute

type engine struct {
	manager   *partition.Manager
	planner   *query.Planner
	executor  *query.Executor
	pipeline  *insert.Pipeline
	defragTTL time.Duration
}

// New wires a Store from cfg, selecting the local-filesystem or S3
// object-store backend per cfg.Storage.Type.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store objstore.Store
	switch cfg.Storage.Type {
	case "local":
		local, err := objstore.NewLocalStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		store = local
	case "s3":
		s3store, err := objstore.NewS3Store(ctx, cfg.Bucket, objstore.S3Config{
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		store = s3store
	default:
		return nil, fmt.Errorf("webindex: unknown storage type %q", cfg.Storage.Type)
	}

	manager := partition.NewManager(store, cfg.DefragMinParts)
	pipeline := insert.NewPipeline(manager)

	return &engine{
		manager:   manager,
		planner:   query.NewPlanner(),
		executor:  query.NewExecutor(manager, cfg.ReadConcurrency),
		pipeline:  pipeline,
		defragTTL: defaultDefragLeaseTTL,
	}, nil
}

func (e *engine) Insert(ctx context.Context, req InsertRequest) (DeterministicQuery, error) {
	return e.pipeline.Insert(ctx, req)
}

func (e *engine) QueryBatch(ctx context.Context, queries []Query) ([]Result, error) {
	if len(queries) == 0 {
		return nil, wxerr.Structural(wxerr.CodeEmptyBatch, "query batch must not be empty")
	}
	plan := e.planner.Plan(queries)
	return e.executor.Execute(ctx, plan, queries), nil
}

func (e *engine) Defragment(ctx context.Context, stream Stream, year, month int, domain string) error {
	key := partition.Key{Stream: stream, Year: year, Month: month, Domain: domain}
	return e.manager.Defragment(ctx, key, e.defragTTL)
}

func (e *engine) Stats() map[string]observability.KindStats {
	return e.executor.Stats().All()
}
