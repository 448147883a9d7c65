package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/pior/dicekv"
	"github.com/pior/dicekv/wire"
)

const nilValue = "(nil)"

// printResponse prints the value of a successful response, and returns the
// server error otherwise.
func printResponse(w io.Writer, resp *dicekv.Response) error {
	if err := resp.Err(); err != nil {
		return err
	}
	for _, line := range formatValue(resp.Value) {
		fmt.Fprintln(w, line)
	}
	return nil
}

// formatValue renders v one element per line, redis-cli style.
func formatValue(v wire.Value) []string {
	switch v.Kind {
	case wire.KindNone:
		return []string{"(empty)"}
	case wire.KindNil:
		return []string{nilValue}
	case wire.KindInt:
		return []string{"(integer) " + strconv.FormatInt(v.Int, 10)}
	case wire.KindString:
		return []string{v.Str}
	case wire.KindFloat:
		return []string{strconv.FormatFloat(v.Float, 'g', -1, 64)}
	case wire.KindBytes:
		return []string{strconv.Quote(string(v.Bytes))}
	case wire.KindList:
		lines := make([]string, len(v.List))
		for i, s := range v.List {
			lines[i] = fmt.Sprintf("%d) %s", i+1, s)
		}
		return lines
	case wire.KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = k + ": " + v.Map[k]
		}
		return lines
	case wire.KindZSet:
		lines := make([]string, len(v.ZSet))
		for i, e := range v.ZSet {
			lines[i] = fmt.Sprintf("%d) %s %s", e.Rank+1, e.Member, strconv.FormatFloat(e.Score, 'g', -1, 64))
		}
		return lines
	default:
		return []string{"(" + v.Kind.String() + ")"}
	}
}

func printStats(w io.Writer, client *dicekv.Client) {
	pool := client.PoolStats()
	fmt.Fprintf(w, "Pool:\n")
	fmt.Fprintf(w, "  Total Connections: %d\n", pool.TotalConns)
	fmt.Fprintf(w, "  Idle Connections: %d\n", pool.IdleConns)
	fmt.Fprintf(w, "  Active Connections: %d\n", pool.ActiveConns)
	fmt.Fprintf(w, "  Created: %d\n", pool.CreatedConns)
	fmt.Fprintf(w, "  Destroyed: %d\n", pool.DestroyedConns)
	fmt.Fprintf(w, "  Acquires: %d (waited %d, failed %d)\n", pool.AcquireCount, pool.AcquireWaitCount, pool.AcquireErrors)
	fmt.Fprintf(w, "  Watch Connections: %d\n", pool.DedicatedConns)

	stats := client.Stats()
	fmt.Fprintf(w, "Client:\n")
	fmt.Fprintf(w, "  Commands: %d (server errors %d)\n", stats.Execs, stats.ServerErrors)
	fmt.Fprintf(w, "  Errors: %d (timeouts %d)\n", stats.Errors, stats.Timeouts)
	fmt.Fprintf(w, "  Watches: %d (active %d)\n", stats.Watches, stats.ActiveWatches)
}
