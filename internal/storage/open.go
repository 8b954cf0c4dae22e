package storage

import (
	"context"
	"errors"
	"strings"

	"leetbot/pkg/logx"
)

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "memory":
		return Memory{}, nil
	case "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Memory is the persistence-off backend.
type Memory struct{}

func (Memory) Load(ctx context.Context) ([]int64, error)   { return nil, nil }
func (Memory) Save(ctx context.Context, ids []int64) error { return nil }
func (Memory) Close() error                                { return nil }
