package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCorrupt is returned by Load when stored data cannot be parsed.
var ErrCorrupt = errors.New("stored subscriber data is corrupt")

// Backend persists snapshots of the subscriber set.
//
// Load returns (nil, nil) when nothing has been stored yet.
type Backend interface {
	Load(ctx context.Context) ([]int64, error)
	Save(ctx context.Context, ids []int64) error
	Close() error
}

// Config selects and configures a backend.
//
// Driver values: "memory" (also "" and "none"), "file", "sqlite", "redis".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}
