// Package config loads symcache's tuning knobs from the environment,
// mirroring the host project's OpenPersistentStore convention: one
// enum-valued driver variable per pluggable concern, plus driver-specific
// follow-ups, with direct os.Getenv calls confined to this file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// SnapshotDriver selects a concrete snapshot backend.
type SnapshotDriver string

const (
	SnapshotNone     SnapshotDriver = "none"
	SnapshotFile     SnapshotDriver = "file"
	SnapshotSQLite   SnapshotDriver = "sqlite"
	SnapshotPostgres SnapshotDriver = "postgres"
)

// Config holds every environment-derived setting Periodic and its snapshot
// backend need (spec §4.7).
type Config struct {
	TickInterval  time.Duration
	PeakThreshold float64
	LastResort    time.Duration

	SnapshotDriver   SnapshotDriver
	SnapshotPath     string
	SQLitePath       string
	PostgresDSN      string
	S3Bucket         string
	S3Key            string
}

const (
	envTickInterval    = "SYMCACHE_TICK_INTERVAL"
	envPeakThreshold   = "SYMCACHE_PEAK_THRESHOLD"
	envLastResort      = "SYMCACHE_LAST_RESORT"
	envSnapshotDriver  = "SYMCACHE_SNAPSHOT_DRIVER"
	envSnapshotPath    = "SYMCACHE_SNAPSHOT_PATH"
	envSQLitePath      = "SYMCACHE_SNAPSHOT_SQLITE_PATH"
	envPostgresDSN     = "SYMCACHE_SNAPSHOT_POSTGRES_DSN"
	envS3Bucket        = "SYMCACHE_SNAPSHOT_S3_BUCKET"
	envS3Key           = "SYMCACHE_SNAPSHOT_S3_KEY"

	defaultTickInterval  = time.Second
	defaultPeakThreshold = 3.0
	defaultSnapshotPath  = "./symcache.snapshot"
)

// LoadConfig reads and validates every symcache environment variable. It is
// the sole supported entry point; a malformed duration or float is fatal to
// process start, matching the teacher's fail-fast OpenPersistentStore
// handling of an unknown storage driver (spec §7).
func LoadConfig() (Config, error) {
	cfg := Config{
		TickInterval:   defaultTickInterval,
		PeakThreshold:  defaultPeakThreshold,
		SnapshotDriver: SnapshotFile,
		SnapshotPath:   defaultSnapshotPath,
	}

	if v := os.Getenv(envTickInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", envTickInterval, err)
		}
		cfg.TickInterval = d
	}

	if v := os.Getenv(envPeakThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", envPeakThreshold, err)
		}
		cfg.PeakThreshold = f
	}

	if v := os.Getenv(envLastResort); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", envLastResort, err)
		}
		cfg.LastResort = d
	}

	driver := os.Getenv(envSnapshotDriver)
	if driver == "" {
		driver = string(SnapshotFile)
	}
	switch SnapshotDriver(driver) {
	case SnapshotNone:
		cfg.SnapshotDriver = SnapshotNone
	case SnapshotFile:
		cfg.SnapshotDriver = SnapshotFile
		cfg.SnapshotPath = envOr(envSnapshotPath, defaultSnapshotPath)
	case SnapshotSQLite:
		cfg.SnapshotDriver = SnapshotSQLite
		cfg.SQLitePath = os.Getenv(envSQLitePath)
	case SnapshotPostgres:
		cfg.SnapshotDriver = SnapshotPostgres
		cfg.PostgresDSN = os.Getenv(envPostgresDSN)
	default:
		return Config{}, fmt.Errorf("config: %s: unknown snapshot driver %q", envSnapshotDriver, driver)
	}

	cfg.S3Bucket = os.Getenv(envS3Bucket)
	cfg.S3Key = os.Getenv(envS3Key)

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
