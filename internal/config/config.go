// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StorePath is the sqlite database path. Empty selects the in-memory store.
	StorePath string `koanf:"store_path"`

	// WorkerCount sets the number of concurrent batch workers.
	WorkerCount int `koanf:"worker_count"`

	// BatchSize bounds how many dirty entries one cycle may claim.
	BatchSize int `koanf:"batch_size"`

	// TickIntervalMS is the scheduler period between batch cycles.
	TickIntervalMS int `koanf:"tick_interval_ms"`

	// BatchBudgetMS is the per-cycle wall-clock budget; leftovers stay dirty.
	BatchBudgetMS int `koanf:"batch_budget_ms"`

	// DedupeSize sets the size of the event-id deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Rating parameters.
	KFactor     float64 `koanf:"k_factor"`
	SigmaFloor  float64 `koanf:"sigma_floor"`
	SigmaCap    float64 `koanf:"sigma_cap"`
	SigmaShrink float64 `koanf:"sigma_shrink"`

	// Publish debounce thresholds.
	ScoreDelta      float64 `koanf:"score_delta"`
	ConfidenceDelta float64 `koanf:"confidence_delta"`

	// Aggregation weights; must sum to 1.
	RatingWeight float64 `koanf:"rating_weight"`
	SignalWeight float64 `koanf:"signal_weight"`
	BoostWeight  float64 `koanf:"boost_weight"`

	// Selection parameters.
	TopK          int `koanf:"top_k"`
	RecentPairCap int `koanf:"recent_pair_cap"`
}

// New creates a Config populated with defaults.
func New() *Config {
	c := &Config{
		LogLevel:        "info",
		Addr:            ":9090",
		StorePath:       "",
		WorkerCount:     1,
		BatchSize:       50,
		TickIntervalMS:  60_000,
		BatchBudgetMS:   10_000,
		DedupeSize:      100_000,
		KFactor:         32,
		SigmaFloor:      50,
		SigmaCap:        350,
		SigmaShrink:     0.98,
		ScoreDelta:      1.0,
		ConfidenceDelta: 5.0,
		RatingWeight:    0.40,
		SignalWeight:    0.30,
		BoostWeight:     0.30,
		TopK:            5,
		RecentPairCap:   50,
	}
	return c
}
