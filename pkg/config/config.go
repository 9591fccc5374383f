// Package config loads the scripting subsystem's configuration the way the
// rest of this codebase does: defaults struct -> optional YAML file -> env
// overrides -> normalize.
package config

import (
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/scriptlayer/pkg/logger"
)

// CacheConfig bounds the script cache and its reclamation pool.
type CacheConfig struct {
	MaxEphemeralEntries   int    `yaml:"max_ephemeral_entries" env:"SCRIPT_CACHE_MAX_EPHEMERAL"`
	AsyncFlushThreshold   int    `yaml:"async_flush_threshold" env:"SCRIPT_CACHE_ASYNC_THRESHOLD"`
	ReclaimWorkers        int    `yaml:"reclaim_workers" env:"SCRIPT_CACHE_RECLAIM_WORKERS"`
	ReclaimQueueDepth     int    `yaml:"reclaim_queue_depth" env:"SCRIPT_CACHE_RECLAIM_QUEUE"`
	DefaultFlushMode      string `yaml:"default_flush_mode" env:"SCRIPT_CACHE_DEFAULT_FLUSH_MODE"`
	CompileTimeoutSeconds int    `yaml:"compile_timeout_seconds" env:"SCRIPT_CACHE_COMPILE_TIMEOUT_SECONDS"`
}

// DebuggerConfig bounds the interactive debugger session.
type DebuggerConfig struct {
	ReadTimeoutSeconds int    `yaml:"read_timeout_seconds" env:"SCRIPT_DEBUG_READ_TIMEOUT_SECONDS"`
	BreakpointCapacity int    `yaml:"breakpoint_capacity" env:"SCRIPT_DEBUG_BREAKPOINT_CAPACITY"`
	DefaultMaxLen      int    `yaml:"default_maxlen" env:"SCRIPT_DEBUG_DEFAULT_MAXLEN"`
	ChildFlag          string `yaml:"child_flag" env:"SCRIPT_DEBUG_CHILD_FLAG"`
}

// EngineConfig names the default back-end for headerless program bodies.
type EngineConfig struct {
	DefaultEngine string `yaml:"default_engine" env:"SCRIPT_DEFAULT_ENGINE"`
}

// Config is the top-level configuration structure.
type Config struct {
	Logging  logger.Config  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
	Debugger DebuggerConfig `yaml:"debugger"`
	Engine   EngineConfig   `yaml:"engine"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Cache: CacheConfig{
			MaxEphemeralEntries: 500,
			AsyncFlushThreshold: 64,
			ReclaimWorkers:      4,
			ReclaimQueueDepth:   256,
			DefaultFlushMode:    "sync",
		},
		Debugger: DebuggerConfig{
			ReadTimeoutSeconds: 5,
			BreakpointCapacity: 64,
			DefaultMaxLen:      60,
			ChildFlag:          "--debug-child",
		},
		Engine: EngineConfig{
			DefaultEngine: "js",
		},
	}
}

// Load loads configuration from an optional YAML file and environment
// overrides, the way cmd/appserver's loader does for the rest of this
// codebase.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("SCRIPTLAYER_CONFIG_FILE"))
	if path == "" {
		path = "configs/scriptlayer.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, err
		}
	}

	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.Cache.MaxEphemeralEntries <= 0 {
		c.Cache.MaxEphemeralEntries = 500
	}
	if c.Cache.AsyncFlushThreshold <= 0 {
		c.Cache.AsyncFlushThreshold = 64
	}
	if c.Cache.ReclaimWorkers <= 0 {
		c.Cache.ReclaimWorkers = 4
	}
	if c.Debugger.ReadTimeoutSeconds <= 0 {
		c.Debugger.ReadTimeoutSeconds = 5
	}
	if c.Debugger.BreakpointCapacity <= 0 {
		c.Debugger.BreakpointCapacity = 64
	}
	if c.Debugger.DefaultMaxLen <= 0 {
		c.Debugger.DefaultMaxLen = 60
	}
	if c.Engine.DefaultEngine == "" {
		c.Engine.DefaultEngine = "js"
	}
}
