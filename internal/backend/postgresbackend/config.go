package postgresbackend

import "time"

// Config mirrors the Bus-level tuning parameters from SPEC_FULL.md §4.8,
// scoped to what the relational backend needs locally.
type Config struct {
	// DSN is a libpq-style connection string or URL, passed to
	// pgxpool.New.
	DSN string

	MaxBacklogSize       uint64
	MaxGlobalBacklogSize uint64
	MaxBacklogAge        time.Duration
	ClearEvery           uint64

	// SweepInterval controls how often the age-based trimming sweep runs.
	// Age trimming in a relational store has no native per-row TTL, so it
	// is approximated with a periodic DELETE (§4.12).
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBacklogSize:       1000,
		MaxGlobalBacklogSize: 2000,
		MaxBacklogAge:        24 * time.Hour,
		ClearEvery:           1,
		SweepInterval:        5 * time.Minute,
	}
}
