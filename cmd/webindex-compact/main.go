// Package main implements webindex-compact: a one-shot CLI that
// defragments a single (stream, year, month, domain) partition on
// demand, standing in for the human-held lease coordination the
// library itself does not automate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/pkg/webindex"
)

func main() {
	var (
		configFile string
		bucket     string
		stream     string
		domain     string
		year       int
		month      int
	)
	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&bucket, "bucket", "", "Root prefix for all partitions")
	flag.StringVar(&stream, "stream", "", "Stream to defragment: get, head, get-metadata or head-metadata")
	flag.StringVar(&domain, "domain", "", "eTLD+1 domain of the partition")
	flag.IntVar(&year, "year", 0, "Partition year")
	flag.IntVar(&month, "month", 0, "Partition month (1-12)")
	flag.Parse()

	if stream == "" || domain == "" || year == 0 || month == 0 {
		log.Fatalf("stream, domain, year and month are all required")
	}

	cfg, err := loadConfig(configFile, bucket)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()
	store, err := webindex.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Defragment(ctx, webindex.Stream(stream), year, month, domain); err != nil {
		log.Fatalf("defragment failed: %v", err)
	}

	fmt.Printf("defragmented %s/%04d/%02d/%s\n", stream, year, month, domain)
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
