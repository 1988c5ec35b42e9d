package redisbackend

import "time"

// Config mirrors the Bus-level tuning parameters from SPEC_FULL.md §4.8,
// scoped to what the shared-store backend needs to know in order to
// enforce trimming locally inside its publish script.
type Config struct {
	// URL is a redis:// or rediss:// connection string, parsed with
	// redis.ParseURL. If empty, Addr/DB/Password below are used instead.
	URL string

	Addr     string
	Password string
	DB       int

	MaxBacklogSize       uint64
	MaxGlobalBacklogSize uint64
	MaxBacklogAge        time.Duration
	ClearEvery           uint64
}

// DefaultConfig matches memorybackend.DefaultConfig so that swapping
// backends in configuration does not silently change retention behavior.
func DefaultConfig() Config {
	return Config{
		Addr:                 "127.0.0.1:6379",
		DB:                   0,
		MaxBacklogSize:       1000,
		MaxGlobalBacklogSize: 2000,
		MaxBacklogAge:        24 * time.Hour,
		ClearEvery:           1,
	}
}
