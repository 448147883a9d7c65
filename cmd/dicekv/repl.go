package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pior/dicekv"
	"github.com/spf13/cobra"
)

func (a *app) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Reads commands from standard input, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.repl(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Connected to %s. Type 'help' for available commands.\n", a.v.GetString("host"))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch command := strings.ToLower(parts[0]); command {
		case "help":
			fmt.Fprintln(out, "Commands:")
			fmt.Fprintln(out, "  <COMMAND> [args...]   - Run a request/response command, e.g. SET k v EX 10")
			fmt.Fprintln(out, "  commands              - List the known commands")
			fmt.Fprintln(out, "  stats                 - Show connection statistics")
			fmt.Fprintln(out, "  quit                  - Exit")

		case "commands":
			for _, name := range a.client.Registry().List() {
				fmt.Fprintln(out, " ", name)
			}

		case "stats":
			printStats(out, a.client)

		case "quit", "exit":
			return nil

		default:
			a.replExec(ctx, out, parts[0], parts[1:])
		}
	}

	return scanner.Err()
}

// replExec runs one command and prints its outcome. Errors are printed, not
// returned: the session goes on.
func (a *app) replExec(ctx context.Context, out io.Writer, name string, args []string) {
	if strings.HasSuffix(strings.ToUpper(name), dicekv.WatchSuffix) {
		fmt.Fprintln(out, "(error) watch commands are not available here, use 'dicekv watch'")
		return
	}

	start := time.Now()
	resp, err := a.client.Exec(ctx, name, args...)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(out, "(error) %v\n", err)
		return
	}
	if err := printResponse(out, resp); err != nil {
		fmt.Fprintf(out, "(error) %s\n", resp.Message)
		return
	}
	a.log.WithField("duration", duration).Debug(resp.Meta.Command)
}
