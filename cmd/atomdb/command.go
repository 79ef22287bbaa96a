package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is a CLI command or subcommand.
type command struct {
	// name is the command name as typed by the user.
	name string

	// summary is a one-line description shown in the parent's help listing.
	summary string

	// usage is the argument synopsis, e.g. "KEY VALUE".
	usage string

	// flags returns a configured flag set. Called once per execution; nil
	// means the command takes no flags.
	flags func() *pflag.FlagSet

	subcommands []*command

	// run executes the command with the positional args left after flag
	// parsing.
	run func(ctx context.Context, args []string) error

	parent *command
}

// execute parses args and dispatches to a subcommand or to run.
func (c *command) execute(ctx context.Context, stderr io.Writer, args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.printHelp(stderr)
		return nil
	}

	if c.flags != nil {
		fs := c.flags()
		fs.SetOutput(io.Discard)
		// Flags of a command with subcommands end at the subcommand name.
		fs.SetInterspersed(len(c.subcommands) == 0)
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				c.printHelp(stderr)
				return nil
			}
			return fmt.Errorf("%w\n\nRun '%s --help' for usage", err, c.fullName())
		}
		args = fs.Args()
	}

	if len(c.subcommands) > 0 {
		if len(args) == 0 {
			c.printHelp(stderr)
			return fmt.Errorf("subcommand required")
		}
		for _, sub := range c.subcommands {
			if sub.name == args[0] {
				sub.parent = c
				return sub.execute(ctx, stderr, args[1:])
			}
		}
		return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage", args[0], c.fullName())
	}

	return c.run(ctx, args)
}

// printHelp writes help output to w.
func (c *command) printHelp(w io.Writer) {
	if c.summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.summary)
	}
	switch {
	case len(c.subcommands) > 0:
		fmt.Fprintf(w, "Usage:\n  %s [flags] <command>\n", c.fullName())
	case c.usage != "":
		fmt.Fprintf(w, "Usage:\n  %s [flags] %s\n", c.fullName(), c.usage)
	default:
		fmt.Fprintf(w, "Usage:\n  %s [flags]\n", c.fullName())
	}

	if len(c.subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.name, sub.summary)
		}
		tw.Flush()
	}

	if c.flags != nil {
		var help strings.Builder
		fs := c.flags()
		fs.SetOutput(&help)
		fs.PrintDefaults()
		if help.Len() > 0 {
			fmt.Fprintf(w, "\nFlags:\n%s", help.String())
		}
	}
}

func (c *command) fullName() string {
	if c.parent == nil {
		return c.name
	}
	return c.parent.fullName() + " " + c.name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}

// exactArgs checks the positional argument count of a leaf command.
func exactArgs(c *command, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: want %d argument(s), got %d\n\nUsage: %s %s", c.name, n, len(args), c.fullName(), c.usage)
	}
	return nil
}
