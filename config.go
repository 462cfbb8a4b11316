package kache

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// Config collects the runtime tunables named across §4.3/§4.4/§4.5/§4.6/§5
// (MAX_LOAD_FACTOR, REHASH_WORK and MAX_MSG_LEN are package constants and are
// not configurable), loaded from an optional TOML file the same way sim/exp.go's newTestCase loads a
// TestCase: toml.Unmarshal over bytes read with os.Open/io.ReadAll. Field
// names are exported and un-tagged since TOML's default key matching is
// case-insensitive on the exported name, matching TestCase's own style.
type Config struct {
	ListenAddr string

	// DEFAULT_TICK: the reactor's poll timeout ceiling in milliseconds when
	// no idle/expiry deadline is sooner (§4.6).
	DefaultTickMs int

	// IDLE_TIMEOUT_US, expressed in seconds in the config file for
	// readability and converted at load time.
	IdleTimeoutSeconds int

	// EXPIRE_WORK_MAX (§4.4).
	ExpireWorkMax int

	// LARGE_CONTAINER_THRESHOLD (§4.5), passed to NewKeyspace.
	LargeContainerThreshold int

	// ZQUERY_MAX (§4.3), passed to NewKeyspace and on to every ZSet it
	// creates.
	ZqueryMax int

	// ThreadPoolSize is the number of worker goroutines backing the thread
	// pool (§4.5).
	ThreadPoolSize int

	// MaxAcceptPerTick bounds the non-blocking accept4 loop per reactor
	// iteration (§4.6 "bounded to avoid starving reads").
	MaxAcceptPerTick int
}

// DefaultConfig returns the constants named throughout §4.3/§4.4/§4.5/§4.6/§5,
// used when no TOML file is given.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:              "0.0.0.0:1234",
		DefaultTickMs:           1000,
		IdleTimeoutSeconds:      60,
		ExpireWorkMax:           2000,
		LargeContainerThreshold: defaultLargeContainerThreshold,
		ZqueryMax:               defaultZqueryMax,
		ThreadPoolSize:          4,
		MaxAcceptPerTick:        64,
	}
}

// LoadConfig reads and parses a TOML config file at path, overlaying its
// fields onto DefaultConfig's values (a field absent from the file keeps its
// default). Grounded on beelog/sim/exp.go's newTestCase/os.Open pattern.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kache: open config %q: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("kache: read config %q: %w", path, err)
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("kache: parse config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) idleTimeoutUs() uint64 {
	return uint64(c.IdleTimeoutSeconds) * 1_000_000
}
