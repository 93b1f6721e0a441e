// Package config loads the grader's runtime configuration: a TOML file
// for structural settings (store paths, limits, transport endpoints) plus
// .env-style secrets (AWS credentials profile, NATS credentials) loaded
// into the process environment. Grounded on internal/environment/config.go's godotenv.Load
// pattern, generalized from hardcoded Postgres/RabbitMQ connection
// strings to the grader's own settings, and from environment variables
// alone to a TOML file (pelletier/go-toml/v2, already a teacher
// dependency though unused in the retrieved snapshot) since the grader
// has enough structure — per-component limits, subjects — to outgrow a
// flat env-var list.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/lvgrader/grader/internal/xdg"
)

// StoreConfig configures C1.
type StoreConfig struct {
	Root      string `toml:"root"`
	S3Bucket  string `toml:"s3_bucket"`
	S3Region  string `toml:"s3_region"`
	S3Prefix  string `toml:"s3_prefix"`
	S3Zstd    bool   `toml:"s3_zstd"`
}

// SandboxConfig configures C2.
type SandboxConfig struct {
	MaxBoxID int    `toml:"max_box_id"`
	IsolateBin string `toml:"isolate_bin"`
}

// ExecutorConfig configures C3's admission gate.
type ExecutorConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`

	// SharedAdmissionPath, when set, switches the Thread Guard from an
	// in-process semaphore to C4's cross-process shared queue at this
	// path, so multiple `grader worker` processes on one host draw from
	// one admission pool of MaxConcurrent tokens instead of each
	// enforcing its own limit unaware of the others.
	SharedAdmissionPath string `toml:"shared_admission_path"`
}

// DispatchConfig configures C6's transport.
type DispatchConfig struct {
	NATSUrl        string `toml:"nats_url"`
	SubjectPrefix  string `toml:"subject_prefix"`
	SQSQueueURL    string `toml:"sqs_queue_url"`
	WorkerCapacity int    `toml:"worker_capacity"`
}

// CheckerConfig configures C7's compile cache.
type CheckerConfig struct {
	CacheDir string `toml:"cache_dir"`
}

// Config is the top-level configuration document, loaded by cmd/grader
// from the --config path (config.toml in the working directory when the
// flag is unset).
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Executor ExecutorConfig `toml:"executor"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Checker  CheckerConfig  `toml:"checker"`
}

// Default returns a Config with XDG-rooted defaults for every path-valued
// field, suitable when no config file is present.
func Default() Config {
	dirs := xdg.NewXDGDirs()
	return Config{
		Store: StoreConfig{
			Root: dirs.AppDataDir("grader") + "/store",
		},
		Sandbox: SandboxConfig{
			MaxBoxID:   999,
			IsolateBin: "isolate",
		},
		Executor: ExecutorConfig{
			MaxConcurrent: 4,
		},
		Dispatch: DispatchConfig{
			NATSUrl:        "nats://127.0.0.1:4222",
			SubjectPrefix:  "grader",
			WorkerCapacity: 4,
		},
		Checker: CheckerConfig{
			CacheDir: dirs.AppCacheDir("grader") + "/checkers",
		},
	}
}

// Load reads .env (if present, for secrets like AWS_PROFILE or
// NATS_CREDS that should never live in the checked-in TOML file) and then
// the TOML file at path, overlaying it onto Default(). A missing TOML
// file is not an error: Default() alone is returned.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
