// Package config parses server configuration from flags and environment
// variables. Flags take precedence over environment variables.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

const gib = 1024 * 1024 * 1024

// ServerConfig holds configuration for the beamdropd binary.
type ServerConfig struct {
	Addr               string        // TCP listen address (default ":6969")
	LogLevel           string        // "debug", "info", "warn", "error"
	SizeLimit          int64         // declared-size ceiling per upload (default 1 GiB)
	StorageDir         string        // destination for direct-to-storage uploads (default ".")
	Workers            int           // worker pool size for packaging and disk writes
	StrictIngest       bool          // abort transfers whose registry entry is missing
	EvictCompleted     bool          // drop a transfer record once its upload completes
	PurgeAfterDownload bool          // clear staging after a successful archive download
	DirtyInterval      time.Duration // pump cadence while recently dirty
	IdleInterval       time.Duration // pump cadence while idle-but-subscribed
	HTTP3              bool          // also serve over HTTP/3 with a self-signed cert
}

// ParseServerConfig parses configuration from os.Args and the BEAMDROP_*
// environment.
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with
// isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:          ":6969",
		LogLevel:      "info",
		SizeLimit:     1 * gib,
		StorageDir:    ".",
		Workers:       4,
		DirtyInterval: 100 * time.Millisecond,
		IdleInterval:  150 * time.Millisecond,
	}

	// Read from environment first
	if addr := os.Getenv("BEAMDROP_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("BEAMDROP_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if storageDir := os.Getenv("BEAMDROP_STORAGE_DIR"); storageDir != "" {
		cfg.StorageDir = storageDir
	}
	if limit := os.Getenv("BEAMDROP_SIZE_LIMIT"); limit != "" {
		if parsed, err := strconv.ParseInt(limit, 10, 64); err == nil && parsed > 0 {
			cfg.SizeLimit = parsed
		}
	}

	// Flags override environment
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.Int64Var(&cfg.SizeLimit, "size-limit", cfg.SizeLimit, "declared-size ceiling per upload in bytes")
	fs.StringVar(&cfg.StorageDir, "storage-dir", cfg.StorageDir, "directory for direct-to-storage uploads")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker pool size for packaging and disk writes")
	fs.BoolVar(&cfg.StrictIngest, "strict-ingest", cfg.StrictIngest, "abort transfers whose progress subscription is missing")
	fs.BoolVar(&cfg.EvictCompleted, "evict-completed", cfg.EvictCompleted, "drop transfer records once their upload completes")
	fs.BoolVar(&cfg.PurgeAfterDownload, "purge-after-download", cfg.PurgeAfterDownload, "clear staged files after a successful archive download")
	fs.DurationVar(&cfg.DirtyInterval, "dirty-interval", cfg.DirtyInterval, "broadcast pump cadence while dirty")
	fs.DurationVar(&cfg.IdleInterval, "idle-interval", cfg.IdleInterval, "broadcast pump cadence while idle")
	fs.BoolVar(&cfg.HTTP3, "http3", cfg.HTTP3, "also serve over HTTP/3 with a self-signed certificate")
	fs.Parse(args)

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SizeLimit < 1 {
		cfg.SizeLimit = 1 * gib
	}
	return cfg
}
