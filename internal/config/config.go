// Package config provides configuration management for cutplan.
// Configuration starts from defaults, is overlaid by an optional TOML file and
// finally by environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/heimdex/cutplan/internal/cluster"
	"github.com/heimdex/cutplan/internal/playback"
	"github.com/heimdex/cutplan/internal/selection"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".cutplan"

	// Environment variable names
	EnvConfigFile = "HEIMDEX_CONFIG"
	EnvPort       = "HEIMDEX_PORT"
	EnvLogLevel   = "HEIMDEX_LOG_LEVEL"
	EnvDataDir    = "HEIMDEX_DATA_DIR"

	// Engine environment variable names
	EnvMinConfidence         = "HEIMDEX_MIN_CONFIDENCE"
	EnvHighSeverityOnly      = "HEIMDEX_HIGH_SEVERITY_ONLY"
	EnvClusterMaxGap         = "HEIMDEX_CLUSTER_MAX_GAP"
	EnvClusterTextSimilarity = "HEIMDEX_CLUSTER_TEXT_SIMILARITY"
	EnvSkipEpsilon           = "HEIMDEX_SKIP_EPSILON"
	EnvSkipLoopLimit         = "HEIMDEX_SKIP_LOOP_LIMIT"
	EnvSkipLoopWindowTicks   = "HEIMDEX_SKIP_LOOP_WINDOW"

	// File names inside the data directory
	DBFilename     = "cutplan.db"
	LockFilename   = "cutplan.lock"
	ConfigFilename = "cutplan.toml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LockPath() string
	DefaultFilter() selection.FilterState
	ClusterOptions() cluster.Options
	SkipOptions() playback.Options
}

// fileConfig mirrors the TOML layout. Decoding onto a populated value leaves
// absent keys at their defaults.
type fileConfig struct {
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
	DataDir  string `toml:"data_dir"`

	Selection struct {
		MinConfidence    float64 `toml:"min_confidence"`
		HighSeverityOnly bool    `toml:"high_severity_only"`
	} `toml:"selection"`

	Cluster struct {
		MaxGap            float64 `toml:"max_gap"`
		MinTextSimilarity float64 `toml:"min_text_similarity"`
	} `toml:"cluster"`

	Playback struct {
		SkipEpsilon float64 `toml:"skip_epsilon"`
		LoopLimit   int     `toml:"loop_limit"`
		LoopWindow  int     `toml:"loop_window"`
	} `toml:"playback"`
}

// EnvConfig is the resolved configuration
type EnvConfig struct {
	port       int
	logLevel   string
	dataDir    string
	configPath string

	minConfidence    float64
	highSeverityOnly bool

	clusterMaxGap  float64
	clusterTextSim float64

	skipEpsilon    float64
	skipLoopLimit  int
	skipLoopWindow int
}

// New loads configuration with the file path taken from HEIMDEX_CONFIG.
func New() (*EnvConfig, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load reads defaults, then the TOML file at path (or <data_dir>/cutplan.toml
// when path is empty), then environment overrides. A missing default file is
// not an error; a missing explicit file is.
func Load(path string) (*EnvConfig, error) {
	fc := defaults()

	dataDir := fc.DataDir
	if dd := os.Getenv(EnvDataDir); dd != "" {
		dataDir = dd
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(dataDir, ConfigFilename)
	}
	if err := decodeFile(path, &fc); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			path = ""
		} else {
			return nil, err
		}
	}

	cfg := &EnvConfig{
		port:             fc.Port,
		logLevel:         fc.LogLevel,
		dataDir:          fc.DataDir,
		configPath:       path,
		minConfidence:    fc.Selection.MinConfidence,
		highSeverityOnly: fc.Selection.HighSeverityOnly,
		clusterMaxGap:    fc.Cluster.MaxGap,
		clusterTextSim:   fc.Cluster.MinTextSimilarity,
		skipEpsilon:      fc.Playback.SkipEpsilon,
		skipLoopLimit:    fc.Playback.LoopLimit,
		skipLoopWindow:   fc.Playback.LoopWindow,
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() fileConfig {
	var fc fileConfig
	fc.Port = DefaultPort
	fc.LogLevel = DefaultLogLevel
	fc.DataDir = defaultDataDir()
	fc.Selection.MinConfidence = selection.DefaultMinConfidence
	fc.Cluster.MaxGap = cluster.DefaultMaxGap
	fc.Cluster.MinTextSimilarity = cluster.DefaultMinTextSimilarity
	fc.Playback.SkipEpsilon = playback.DefaultEpsilon
	fc.Playback.LoopLimit = playback.DefaultLoopLimit
	fc.Playback.LoopWindow = playback.DefaultLoopWindow
	return fc
}

func decodeFile(path string, fc *fileConfig) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{EnvMinConfidence, &c.minConfidence},
		{EnvClusterMaxGap, &c.clusterMaxGap},
		{EnvClusterTextSimilarity, &c.clusterTextSim},
		{EnvSkipEpsilon, &c.skipEpsilon},
	}
	for _, f := range floats {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.env, err)
		}
		*f.dst = parsed
	}

	ints := []struct {
		env string
		dst *int
	}{
		{EnvSkipLoopLimit, &c.skipLoopLimit},
		{EnvSkipLoopWindowTicks, &c.skipLoopWindow},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.env, err)
		}
		*i.dst = parsed
	}

	if v := os.Getenv(EnvHighSeverityOnly); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHighSeverityOnly, err)
		}
		c.highSeverityOnly = on
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
	}
	if strings.TrimSpace(c.dataDir) == "" {
		return fmt.Errorf("invalid %s: data directory is required", EnvDataDir)
	}
	if !inUnit(c.minConfidence) {
		return fmt.Errorf("invalid %s: must be between 0 and 1", EnvMinConfidence)
	}
	if !inUnit(c.clusterTextSim) {
		return fmt.Errorf("invalid %s: must be between 0 and 1", EnvClusterTextSimilarity)
	}
	if math.IsNaN(c.clusterMaxGap) || c.clusterMaxGap < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvClusterMaxGap)
	}
	if math.IsNaN(c.skipEpsilon) || c.skipEpsilon <= 0 || c.skipEpsilon > 1 {
		return fmt.Errorf("invalid %s: must be in (0, 1] seconds", EnvSkipEpsilon)
	}
	if c.skipLoopLimit < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvSkipLoopLimit)
	}
	if c.skipLoopWindow < 1 {
		return fmt.Errorf("invalid %s: must be at least 1", EnvSkipLoopWindowTicks)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LockPath returns the path of the single-writer lock file
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

// ConfigPath returns the TOML file that was loaded, or "" when none was.
func (c *EnvConfig) ConfigPath() string {
	return c.configPath
}

// DefaultFilter is the category filter new sessions start with.
func (c *EnvConfig) DefaultFilter() selection.FilterState {
	f := selection.DefaultFilter()
	f.MinConfidence = c.minConfidence
	f.HighSeverityOnly = c.highSeverityOnly
	return f
}

func (c *EnvConfig) ClusterOptions() cluster.Options {
	return cluster.Options{MaxGap: c.clusterMaxGap, MinTextSimilarity: c.clusterTextSim}
}

func (c *EnvConfig) SkipOptions() playback.Options {
	return playback.Options{
		Epsilon:    c.skipEpsilon,
		LoopLimit:  c.skipLoopLimit,
		LoopWindow: c.skipLoopWindow,
	}
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
