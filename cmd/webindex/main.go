// Package main implements the webindex server binary: insert, query
// and defragment over HTTP behind one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/webindex/webindex/internal/app"
	"github.com/webindex/webindex/internal/config"
)

func main() {
	var (
		configFile string
		bucket     string
		addr       string
		showHelp   bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&bucket, "bucket", "", "Root prefix for all partitions")
	flag.StringVar(&addr, "addr", "", "HTTP server listen address")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "webindex - append-only index of web-fetch outcomes\n\n")
		fmt.Fprintf(os.Stderr, "Usage: webindex [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  WEBINDEX_BUCKET, WEBINDEX_ADDR, WEBINDEX_STORAGE_TYPE, WEBINDEX_STORAGE_PATH,\n")
		fmt.Fprintf(os.Stderr, "  WEBINDEX_S3_REGION, WEBINDEX_S3_ENDPOINT, WEBINDEX_READ_CONCURRENCY,\n")
		fmt.Fprintf(os.Stderr, "  WEBINDEX_WRITE_CONCURRENCY, WEBINDEX_DEFRAG_MIN_PARTS\n")
	}
	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, bucket, addr)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(configFile, bucket, addr string) (*config.Config, error) {
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
	if addr != "" {
		cfg.Addr = addr
	}

	return cfg, nil
}
