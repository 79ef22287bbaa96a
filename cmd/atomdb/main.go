// Command atomdb inspects and edits atomdb database files.
//
//	atomdb --db data.adb put user/1 ada
//	atomdb --db data.adb list --prefix user/
//	atomdb --config atomdb.yaml export backup.atdp --compression lz4
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/hupe1980/atomdb/internal/fs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr, fsys: fs.Default}
	return a.root().execute(ctx, stderr, args)
}
