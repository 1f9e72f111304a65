// Package engine wires the storage core's subsystems — disk, WAL, buffer
// pool, lock manager, transaction manager, catalog, checkpoint manager, and
// crash recovery — into one object a driver can Open and Close.
//
// Config's env-var loading is grounded on darleet-GraphDB's src/app/env.go
// mustLoadEnv: godotenv.Load for an optional .env file, then
// envconfig.Process against a struct tagged with split_words, under the
// DAEMONDB prefix in place of that teacher's GRAPHDB one.
package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the storage core needs at startup. Callers
// that don't want env-var loading can build one directly; DefaultConfig
// fills in the same values LoadConfig falls back to when a variable is
// unset.
type Config struct {
	DataDir string `split_words:"true" default:"./data"`

	BufferPoolSize int `split_words:"true" default:"128"`

	WALBufferBytes     int           `split_words:"true" default:"4096"`
	WALFlushInterval   time.Duration `split_words:"true" default:"100ms"`
	DeadlockInterval   time.Duration `split_words:"true" default:"500ms"`
	CheckpointInterval time.Duration `split_words:"true" default:"30s"`

	IndexLeafMaxSize     int32 `split_words:"true" default:"128"`
	IndexInternalMaxSize int32 `split_words:"true" default:"128"`
}

func (c Config) dbFile() string {
	return c.DataDir + "/daemon.db"
}

func (c Config) logFile() string {
	return c.DataDir + "/daemon.log"
}

// DefaultConfig returns the struct-tag defaults overlaid with any
// DAEMONDB_* variables already set in the process environment. Unlike
// LoadConfig it reads no .env file, and it panics on a malformed value.
func DefaultConfig() Config {
	var c Config
	envconfig.MustProcess("DAEMONDB", &c)
	return c
}

// LoadConfig reads an optional .env file (ignored if absent, unlike the
// teacher's mustLoadEnv which panics) and then overlays DAEMONDB_*
// environment variables onto the defaults.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("engine: load .env: %w", err)
	}

	var c Config
	if err := envconfig.Process("DAEMONDB", &c); err != nil {
		return Config{}, fmt.Errorf("engine: process env: %w", err)
	}
	return c, nil
}
