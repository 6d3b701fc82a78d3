// Package main implements webindex-ingest: a one-shot CLI that reads a
// single insert envelope from a file (or stdin) and records it through
// a webindex.Store, printing the resulting deterministic query as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/pkg/webindex"
)

type insertEnvelope struct {
	Type      string         `json:"type"`
	URL       string         `json:"url"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  metadataRowEnv `json:"metadata"`
	DataRows  []dataRowEnv   `json:"data_rows,omitempty"`
}

type dataRowEnv struct {
	RequestURL     string `json:"request_url"`
	StatusCode     uint16 `json:"status_code"`
	Data           []byte `json:"data,omitempty"`
	Headers        string `json:"headers"`
	IsFinal        bool   `json:"is_final"`
	FetcherName    string `json:"fetcher_name"`
	FetcherVersion string `json:"fetcher_version"`
	FetcherCalibre uint8  `json:"fetcher_calibre"`
}

type metadataRowEnv struct {
	State     string   `json:"state"`
	Logs      *string  `json:"logs,omitempty"`
	Traceback *string  `json:"traceback,omitempty"`
	RunTime   *float64 `json:"run_time,omitempty"`
}

func main() {
	var (
		configFile string
		inputPath  string
		bucket     string
	)
	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&inputPath, "input", "-", "Path to the insert envelope JSON (- for stdin)")
	flag.StringVar(&bucket, "bucket", "", "Root prefix for all partitions")
	flag.Parse()

	cfg, err := loadConfig(configFile, bucket)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var body []byte
	if inputPath == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(inputPath)
	}
	if err != nil {
		log.Fatalf("failed to read input: %v", err)
	}

	var env insertEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Fatalf("failed to parse insert envelope: %v", err)
	}
	req, err := toInsertRequest(env)
	if err != nil {
		log.Fatalf("invalid insert envelope: %v", err)
	}

	ctx := context.Background()
	store, err := webindex.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}

	result, err := store.Insert(ctx, req)
	if err != nil {
		log.Fatalf("insert failed: %v", err)
	}

	out, err := json.Marshal(struct {
		Stream    string `json:"stream"`
		URL       string `json:"url"`
		Timestamp string `json:"timestamp"`
		RequestID string `json:"request_id"`
	}{
		Stream:    string(result.Stream),
		URL:       result.URL,
		Timestamp: result.Timestamp.Format(time.RFC3339Nano),
		RequestID: result.RequestID,
	})
	if err != nil {
		log.Fatalf("failed to encode result: %v", err)
	}
	fmt.Println(string(out))
}

func toInsertRequest(env insertEnvelope) (webindex.InsertRequest, error) {
	var stream webindex.Stream
	switch env.Type {
	case "get":
		stream = webindex.StreamGet
	case "head":
		stream = webindex.StreamHead
	default:
		return webindex.InsertRequest{}, fmt.Errorf("type must be \"get\" or \"head\", got %q", env.Type)
	}

	dataRows := make([]webindex.DataRow, len(env.DataRows))
	for i, d := range env.DataRows {
		dataRows[i] = webindex.DataRow{
			RequestURL:     d.RequestURL,
			StatusCode:     d.StatusCode,
			Data:           d.Data,
			Headers:        d.Headers,
			IsFinal:        d.IsFinal,
			FetcherName:    d.FetcherName,
			FetcherVersion: d.FetcherVersion,
			FetcherCalibre: webindex.Calibre(d.FetcherCalibre),
		}
	}

	return webindex.InsertRequest{
		Type:      stream,
		URL:       env.URL,
		Timestamp: env.Timestamp,
		Metadata: webindex.MetadataRow{
			State:     webindex.AttemptState(env.Metadata.State),
			Logs:      env.Metadata.Logs,
			Traceback: env.Metadata.Traceback,
			RunTime:   env.Metadata.RunTime,
		},
		DataRows: dataRows,
	}, nil
}

func loadConfig(configFile, bucket string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	if bucket != "" {
		cfg.Bucket = bucket
	}
	return cfg, nil
}
