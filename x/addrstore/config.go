package addrstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Backend names accepted in configuration.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend        string
	Dir            string
	Project        string
	DeploymentMode string
	Redis          RedisConfig
	Logger         zerolog.Logger
}

// DefaultConfig returns a file-backed config writing under ./deployments.
func DefaultConfig(logger zerolog.Logger) Config {
	return Config{
		Backend:        BackendFile,
		Dir:            "deployments",
		DeploymentMode: "dev",
		Logger:         logger,
	}
}

func (c *Config) apply() error {
	if c.Logger.GetLevel() == zerolog.NoLevel {
		c.Logger = zerolog.Nop()
	}
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.Backend == BackendMemory {
		return nil
	}
	if c.Project == "" {
		return errors.New("addrstore: project is required")
	}
	if c.DeploymentMode == "" {
		return errors.New("addrstore: deployment mode is required")
	}
	if c.Dir == "" && c.Backend != BackendRedis {
		return errors.New("addrstore: directory is required")
	}
	return nil
}

// Open builds the configured backend. One store exists per
// (deployment mode, project) pair.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.apply(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return OpenFile(filepath.Join(cfg.Dir, FileName(cfg.DeploymentMode, cfg.Project)), cfg.Logger)
	case BackendSQLite:
		name := fmt.Sprintf("%s_%s_addresses.db", cfg.DeploymentMode, cfg.Project)
		return OpenSQLite(filepath.Join(cfg.Dir, name), cfg.Logger)
	case BackendRedis:
		rc := cfg.Redis
		if rc.Namespace == "" {
			rc.Namespace = cfg.DeploymentMode + ":" + cfg.Project
		}
		return OpenRedis(ctx, rc, cfg.Logger)
	default:
		return nil, fmt.Errorf("addrstore: unknown backend %q", cfg.Backend)
	}
}
