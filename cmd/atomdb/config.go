package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/atomdb"
	"github.com/hupe1980/atomdb/codec"
	"github.com/hupe1980/atomdb/dump"
	"github.com/hupe1980/atomdb/segment"
)

// Config is the CLI configuration file.
//
//	db:
//	  path: ./data.adb
//	  page_shift: 12
//	  max_size: 4294967296
//	  max_keys: 1048576
//	log:
//	  level: warn
//	  format: text
//	dump:
//	  compression: zstd
//	  codec: cbor
type Config struct {
	DB   DBConfig   `yaml:"db"`
	Log  LogConfig  `yaml:"log"`
	Dump DumpConfig `yaml:"dump"`
}

// DBConfig locates and sizes the database.
type DBConfig struct {
	Path      string `yaml:"path"`
	PageShift uint8  `yaml:"page_shift"`
	MaxSize   int64  `yaml:"max_size"`
	MaxKeys   uint32 `yaml:"max_keys"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DumpConfig holds the export defaults.
type DumpConfig struct {
	Compression string `yaml:"compression"`
	Codec       string `yaml:"codec"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DB: DBConfig{
			Path:      "atomdb.adb",
			PageShift: segment.DefaultPageShift,
			MaxSize:   segment.DefaultMaxSize,
			MaxKeys:   atomdb.DefaultMaxKeys,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Dump: DumpConfig{
			Compression: dump.CompressionZstd.String(),
			Codec:       codec.Default.Name(),
		},
	}
}

// LoadFile reads path over the defaults. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that has a closed set of values.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return errors.New("db.path is empty")
	}
	if c.DB.PageShift < segment.MinPageShift || c.DB.PageShift > segment.MaxPageShift {
		return fmt.Errorf("db.page_shift %d outside [%d, %d]", c.DB.PageShift, segment.MinPageShift, segment.MaxPageShift)
	}
	if c.DB.MaxSize <= 0 {
		return fmt.Errorf("db.max_size %d is not positive", c.DB.MaxSize)
	}
	if c.DB.MaxKeys == 0 || c.DB.MaxKeys > atomdb.MaxKeys {
		return fmt.Errorf("db.max_keys %d outside [1, %d]", c.DB.MaxKeys, atomdb.MaxKeys)
	}
	if _, err := c.level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is neither text nor json", c.Log.Format)
	}
	if _, err := dump.ParseCompression(c.Dump.Compression); err != nil {
		return err
	}
	if _, ok := codec.ByName(c.Dump.Codec); !ok {
		return fmt.Errorf("dump.codec %q unknown, have %v", c.Dump.Codec, codec.Names())
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the logger the config describes, writing to w.
func (c *Config) Logger(w io.Writer) *atomdb.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelWarn
	}
	ho := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return atomdb.NewLogger(slog.NewJSONHandler(w, ho))
	}
	return atomdb.NewLogger(slog.NewTextHandler(w, ho))
}

// Options turns the config into database options.
func (c *Config) Options(logw io.Writer) []atomdb.Option {
	return []atomdb.Option{
		atomdb.WithPageShift(c.DB.PageShift),
		atomdb.WithMaxSize(c.DB.MaxSize),
		atomdb.WithMaxKeys(c.DB.MaxKeys),
		atomdb.WithLogger(c.Logger(logw)),
	}
}

// DumpOptions returns the export options of the config, with the
// compression and codec names given as overrides when non-empty.
func (c *Config) DumpOptions(compression, codecName string) ([]dump.Option, error) {
	if compression == "" {
		compression = c.Dump.Compression
	}
	if codecName == "" {
		codecName = c.Dump.Codec
	}
	comp, err := dump.ParseCompression(compression)
	if err != nil {
		return nil, err
	}
	cd, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q, have %v", codecName, codec.Names())
	}
	return []dump.Option{dump.WithCompression(comp), dump.WithCodec(cd)}, nil
}
