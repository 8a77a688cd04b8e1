package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andreyvit/coltab"
)

type Config struct {
	// Dir holds the three store files. Empty means a temporary directory.
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
	NoSync   bool   `mapstructure:"no_sync"`
	Seed     uint64 `mapstructure:"seed"`

	Table struct {
		Rows    int    `mapstructure:"rows"`
		Codec   string `mapstructure:"codec"`
		Level   int    `mapstructure:"level"`
		Shuffle bool   `mapstructure:"shuffle"`
	} `mapstructure:"table"`

	Array struct {
		Appends    int    `mapstructure:"appends"`
		BlockShape []int  `mapstructure:"block_shape"`
		Expr       string `mapstructure:"expr"`
		Threads    []int  `mapstructure:"threads"`
	} `mapstructure:"array"`

	Log struct {
		Format string `mapstructure:"format"`
		Level  string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dir", "")
	v.SetDefault("in_memory", false)
	v.SetDefault("no_sync", true)
	v.SetDefault("seed", 42)
	v.SetDefault("table.rows", 2_000_000)
	v.SetDefault("table.codec", "lz4")
	v.SetDefault("table.level", 5)
	v.SetDefault("table.shuffle", true)
	v.SetDefault("array.appends", 750)
	v.SetDefault("array.block_shape", []int{500, 500})
	v.SetDefault("array.expr", "3 * sin(ear) + sqrt(abs(ear))")
	v.SetDefault("array.threads", []int{1, 4})
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("coltabbench", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	fs.String("dir", "", "directory for store files (default: a temporary directory)")
	fs.Bool("in-memory", false, "keep all stores in memory")
	fs.Int("rows", 0, "number of table rows")
	fs.String("codec", "", "codec of the compressed table: lz4, zlib or zstd")
	fs.Int("level", 0, "compression level of the compressed table")
	fs.Int("appends", 0, "number of blocks appended to the growable array")
	fs.IntSlice("block-shape", nil, "shape of each block appended to the growable array (rows, then row shape)")
	fs.IntSlice("threads", nil, "thread counts for in-memory evaluation")
	fs.String("log-format", "", "text or json")
	fs.String("log-level", "", "debug, info, warn or error")
	return fs
}

var flagKeys = map[string]string{
	"dir":         "dir",
	"in-memory":   "in_memory",
	"rows":        "table.rows",
	"codec":       "table.codec",
	"level":       "table.level",
	"appends":     "array.appends",
	"block-shape": "array.block_shape",
	"threads":     "array.threads",
	"log-format":  "log.format",
	"log-level":   "log.level",
}

// LoadConfig merges, from lowest to highest priority: defaults, the YAML file
// named by --config, COLTABBENCH_* environment variables and flags.
func LoadConfig(args []string) (*Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("COLTABBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Table.Rows <= 0 {
		return fmt.Errorf("table.rows must be positive, got %d", cfg.Table.Rows)
	}
	if _, err := cfg.filter(); err != nil {
		return err
	}
	if cfg.Array.Appends < 0 {
		return fmt.Errorf("array.appends must not be negative, got %d", cfg.Array.Appends)
	}
	if len(cfg.Array.BlockShape) == 0 {
		return fmt.Errorf("array.block_shape must not be empty")
	}
	for _, d := range cfg.Array.BlockShape {
		if d <= 0 {
			return fmt.Errorf("array.block_shape dimensions must be positive, got %v", cfg.Array.BlockShape)
		}
	}
	for _, n := range cfg.Array.Threads {
		if n <= 0 {
			return fmt.Errorf("array.threads must be positive, got %v", cfg.Array.Threads)
		}
	}
	if _, err := cfg.logLevel(); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

func (cfg *Config) filter() (coltab.Filter, error) {
	codec, err := coltab.ParseCodec(cfg.Table.Codec)
	if err != nil {
		return coltab.Filter{}, fmt.Errorf("table.codec: %w", err)
	}
	if cfg.Table.Level < 0 || cfg.Table.Level > 9 {
		return coltab.Filter{}, fmt.Errorf("table.level must be in 0..9, got %d", cfg.Table.Level)
	}
	return coltab.Filter{Codec: codec, Level: cfg.Table.Level, Shuffle: cfg.Table.Shuffle}, nil
}

func (cfg *Config) logLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

func (cfg *Config) newLogger() *slog.Logger {
	lvl, _ := cfg.logLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
