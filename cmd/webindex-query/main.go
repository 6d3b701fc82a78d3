// Package main implements webindex-query: a one-shot CLI that reads a
// query batch envelope from a file (or stdin), runs it through a
// webindex.Store, and prints one result line per query.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/pkg/webindex"
)

func main() {
	var (
		configFile string
		inputPath  string
		bucket     string
	)
	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&inputPath, "input", "-", "Path to the query batch JSON (- for stdin)")
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

	queries, err := webindex.UnmarshalQueryBatch(body)
	if err != nil {
		log.Fatalf("failed to parse query batch: %v", err)
	}

	ctx := context.Background()
	store, err := webindex.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}

	results, err := store.QueryBatch(ctx, queries)
	if err != nil {
		log.Fatalf("query batch failed: %v", err)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for i, res := range results {
		encoded, err := webindex.MarshalResult(res)
		if err != nil {
			fmt.Fprintf(out, "{\"index\":%d,\"error\":%q}\n", i, err.Error())
			continue
		}
		out.Write(encoded)
		out.WriteByte('\n')
	}
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
