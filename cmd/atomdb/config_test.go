package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomdb/dump"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atomdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "zstd", cfg.Dump.Compression)
	assert.Equal(t, "cbor", cfg.Dump.Codec)
	assert.Len(t, cfg.Options(nil), 4)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
db:
  path: /var/lib/atomdb/main.adb
  page_shift: 13
dump:
  compression: lz4
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/atomdb/main.adb", cfg.DB.Path)
	assert.Equal(t, uint8(13), cfg.DB.PageShift)
	assert.Equal(t, Default().DB.MaxKeys, cfg.DB.MaxKeys, "unset keys keep their defaults")
	assert.Equal(t, "lz4", cfg.Dump.Compression)
	assert.Equal(t, "cbor", cfg.Dump.Codec)

	opts, err := cfg.DumpOptions("", "json")
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	empty, err := LoadFile(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "db:\n  paht: x\n"},
		{"bad page shift", "db:\n  page_shift: 9\n"},
		{"bad max keys", "db:\n  max_keys: 0\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"bad compression", "dump:\n  compression: brotli\n"},
		{"bad codec", "dump:\n  codec: gob\n"},
		{"not yaml", "db: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDumpOptions(t *testing.T) {
	cfg := Default()
	_, err := cfg.DumpOptions("gzip", "")
	assert.Error(t, err)
	_, err = cfg.DumpOptions("", "msgpack")
	assert.Error(t, err)
	_, err = dump.ParseCompression(cfg.Dump.Compression)
	assert.NoError(t, err)
}
