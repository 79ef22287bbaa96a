package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/hupe1980/atomdb"
	"github.com/hupe1980/atomdb/internal/fs"
)

// app carries the global flags and I/O streams shared by all commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	fsys   fs.FileSystem

	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
}

func (a *app) root() *command {
	return &command{
		name:    "atomdb",
		summary: "Inspect and edit an atomdb database file.",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("atomdb", pflag.ContinueOnError)
			fs.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
			fs.StringVar(&a.dbPath, "db", "", "database file (overrides db.path)")
			fs.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
			fs.StringVar(&a.logFormat, "log-format", "", "text or json (overrides log.format)")
			return fs
		},
		subcommands: []*command{
			a.putCmd(),
			a.getCmd(),
			a.delCmd(),
			a.listCmd(),
			a.statCmd(),
			a.verifyCmd(),
			a.exportCmd(),
			a.importCmd(),
		},
	}
}

// config loads the config file, if any, and overlays the global flags.
func (a *app) config() (*Config, error) {
	cfg := Default()
	if a.configPath != "" {
		var err error
		if cfg, err = LoadFile(a.configPath); err != nil {
			return nil, err
		}
	}
	if a.dbPath != "" {
		cfg.DB.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDB opens the configured database, runs fn and closes it.
func (a *app) withDB(fn func(cfg *Config, db *atomdb.DB) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	db, err := atomdb.Open(cfg.DB.Path, cfg.Options(a.stderr)...)
	if err != nil {
		return err
	}
	err = fn(cfg, db)
	if cerr := db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *app) putCmd() *command {
	c := &command{name: "put", summary: "Store a value under a key", usage: "KEY VALUE"}
	c.run = func(ctx context.Context, args []string) error {
		if err := exactArgs(c, args, 2); err != nil {
			return err
		}
		return a.withDB(func(_ *Config, db *atomdb.DB) error {
			return db.Put(ctx, []byte(args[0]), []byte(args[1]))
		})
	}
	return c
}

func (a *app) getCmd() *command {
	c := &command{name: "get", summary: "Print the value of a key", usage: "KEY"}
	c.run = func(ctx context.Context, args []string) error {
		if err := exactArgs(c, args, 1); err != nil {
			return err
		}
		return a.withDB(func(_ *Config, db *atomdb.DB) error {
			v, err := db.Get(ctx, []byte(args[0]))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(a.stdout, "%s\n", v)
			return err
		})
	}
	return c
}

func (a *app) delCmd() *command {
	c := &command{name: "del", summary: "Delete a key", usage: "KEY"}
	c.run = func(ctx context.Context, args []string) error {
		if err := exactArgs(c, args, 1); err != nil {
			return err
		}
		return a.withDB(func(_ *Config, db *atomdb.DB) error {
			if err := db.Delete(ctx, []byte(args[0])); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return nil
		})
	}
	return c
}

func (a *app) listCmd() *command {
	var prefix, from string
	var limit int
	var keysOnly bool
	c := &command{
		name:    "list",
		summary: "List entries in key order",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
			fs.StringVarP(&prefix, "prefix", "p", "", "only keys starting with this prefix")
			fs.StringVar(&from, "from", "", "start at the first key not less than this")
			fs.IntVarP(&limit, "limit", "n", 0, "stop after this many entries (0 means no limit)")
			fs.BoolVarP(&keysOnly, "keys", "k", false, "print keys only")
			return fs
		},
	}
	c.run = func(ctx context.Context, args []string) error {
		if err := exactArgs(c, args, 0); err != nil {
			return err
		}
		return a.withDB(func(_ *Config, db *atomdb.DB) error {
			n := 0
			emit := func(k, v []byte) bool {
				if keysOnly {
					fmt.Fprintf(a.stdout, "%s\n", k)
				} else {
					fmt.Fprintf(a.stdout, "%s\t%s\n", k, v)
				}
				n++
				return limit == 0 || n < limit
			}

			if from == "" {
				for k, v := range db.Scan(ctx, []byte(prefix)) {
					if !emit(k, v) {
						break
					}
				}
				return ctx.Err()
			}

			start := []byte(from)
			if bytes.Compare(start, []byte(prefix)) < 0 {
				start = []byte(prefix)
			}
			k, v, err := db.Seek(ctx, start, true)
			for err == nil && bytes.HasPrefix(k, []byte(prefix)) && emit(k, v) {
				k, v, err = db.Seek(ctx, k, false)
			}
			if errors.Is(err, atomdb.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	return c
}

func (a *app) statCmd() *command {
	c := &command{name: "stat", summary: "Print database statistics"}
	c.run = func(_ context.Context, args []string) error {
		if err := exactArgs(c, args, 0); err != nil {
			return err
		}
		return a.withDB(func(cfg *Config, db *atomdb.DB) error {
			st := db.Stats()
			tw := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "path\t%s\n", cfg.DB.Path)
			fmt.Fprintf(tw, "keys\t%d\n", st.Keys)
			fmt.Fprintf(tw, "size\t%d bytes (%d of %d pages used, page size %d)\n",
				st.Segment.Size, st.Segment.UsedPages, st.Segment.TotalPages, st.Segment.PageSize)
			fmt.Fprintf(tw, "nodes\t%d in use, %d free, max %d\n", st.Nodes.InUse, st.Nodes.Free, st.Nodes.MaxAtoms)
			fmt.Fprintf(tw, "records\t%d (%d bytes)\n", st.Store.Records, st.Store.Bytes)
			for _, cl := range st.Store.Classes {
				fmt.Fprintf(tw, "  %s\t%d-byte: %d in use, %d free\n", cl.Name, cl.AtomSize, cl.InUse, cl.Free)
			}
			return tw.Flush()
		})
	}
	return c
}

func (a *app) verifyCmd() *command {
	c := &command{name: "verify", summary: "Check the database for consistency"}
	c.run = func(ctx context.Context, args []string) error {
		if err := exactArgs(c, args, 0); err != nil {
			return err
		}
		return a.withDB(func(_ *Config, db *atomdb.DB) error {
			if err := db.Verify(ctx); err != nil {
				return err
			}
			_, err := fmt.Fprintf(a.stdout, "ok: %d keys\n", db.Len())
			return err
		})
	}
	return c
}

func (a *app) exportCmd() *command {
	var compression, codecName string
	c := &command{
		name:    "export",
		summary: "Write all entries to a dump file (- for stdout)",
		usage:   "FILE",
		flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
			fs.StringVar(&compression, "compression", "", "zstd, lz4 or none (overrides dump.compression)")
			fs.StringVar(&codecName, "codec", "", "cbor or json (overrides dump.codec)")
			return fs
		},
	}
	c.run = func(ctx context.Context, args []string) error {
		if err := exactArgs(c, args, 1); err != nil {
			return err
		}
		return a.withDB(func(cfg *Config, db *atomdb.DB) error {
			opts, err := cfg.DumpOptions(compression, codecName)
			if err != nil {
				return err
			}
			if args[0] == "-" {
				return db.Export(ctx, a.stdout, opts...)
			}
			f, err := a.fsys.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if err := db.Export(ctx, f, opts...); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		})
	}
	return c
}

func (a *app) importCmd() *command {
	c := &command{
		name:    "import",
		summary: "Load entries from a dump file (- for stdin)",
		usage:   "FILE",
	}
	c.run = func(ctx context.Context, args []string) error {
		if err := exactArgs(c, args, 1); err != nil {
			return err
		}
		return a.withDB(func(_ *Config, db *atomdb.DB) error {
			r := a.stdin
			if args[0] != "-" {
				f, err := a.fsys.OpenFile(args[0], os.O_RDONLY, 0)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			n, err := db.Import(ctx, r)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "imported %d entries\n", n)
			return err
		})
	}
	return c
}
