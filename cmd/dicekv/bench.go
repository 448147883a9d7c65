package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pior/dicekv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchOperation string

const (
	benchGet  benchOperation = "get"
	benchSet  benchOperation = "set"
	benchIncr benchOperation = "incr"
	benchMiss benchOperation = "miss"
)

var benchOperations = []benchOperation{benchGet, benchSet, benchIncr, benchMiss}

type benchResult struct {
	operation  benchOperation
	duration   time.Duration
	ops        int64
	failures   int64
	latency    int64
	mismatches int64
}

func (r *benchResult) print(w io.Writer) {
	fmt.Fprintf(w, "Operation: %s\n", r.operation)
	fmt.Fprintf(w, "Duration: %v\n", r.duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Operations: %d\n", r.ops)
	fmt.Fprintf(w, "Failures: %d\n", r.failures)
	if r.ops > 0 {
		fmt.Fprintf(w, "Ops/sec: %.2f\n", float64(r.ops)/r.duration.Seconds())
		fmt.Fprintf(w, "Avg Latency: %v\n", time.Duration(r.latency/r.ops))
	}
	fmt.Fprintf(w, "Correctness: %t\n", r.mismatches == 0)
	fmt.Fprintln(w)
}

func (a *app) benchCmd() *cobra.Command {
	var (
		operation   string
		duration    time.Duration
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measures throughput and latency against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops := benchOperations
			if operation != "all" {
				op, err := parseBenchOperation(operation)
				if err != nil {
					return err
				}
				ops = []benchOperation{op}
			}

			out := cmd.OutOrStdout()
			for _, op := range ops {
				result, err := a.bench(cmd.Context(), op, duration, concurrency)
				if err != nil {
					return err
				}
				result.print(out)
			}
			printStats(out, a.client)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&operation, "operation", "all", "operation: get, set, incr, miss or all")
	flags.DurationVar(&duration, "duration", 5*time.Second, "duration of each benchmark")
	flags.IntVar(&concurrency, "concurrency", 4, "number of concurrent workers")
	return cmd
}

func parseBenchOperation(s string) (benchOperation, error) {
	for _, op := range benchOperations {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("invalid operation %q", s)
}

// bench runs one operation from concurrency workers until the duration
// elapses. Failed commands are counted, they do not stop the run.
func (a *app) bench(ctx context.Context, op benchOperation, duration time.Duration, concurrency int) (*benchResult, error) {
	const key = "dicekv-bench"
	const value = "dicekv-bench-value"

	if op == benchGet {
		if _, err := a.client.Set(ctx, key, value, dicekv.SetOptions{EX: time.Hour}); err != nil {
			return nil, fmt.Errorf("setting up %s: %w", op, err)
		}
	}

	result := &benchResult{operation: op}
	deadline := time.Now().Add(duration)
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < concurrency; worker++ {
		worker := worker
		g.Go(func() error {
			for i := 0; time.Now().Before(deadline); i++ {
				if ctx.Err() != nil {
					return nil
				}

				opStart := time.Now()
				ok, err := a.benchOnce(ctx, op, key, value, worker, i)
				atomic.AddInt64(&result.latency, int64(time.Since(opStart)))
				atomic.AddInt64(&result.ops, 1)

				if err != nil {
					atomic.AddInt64(&result.failures, 1)
					a.log.WithError(err).Debug(op)
				} else if !ok {
					atomic.AddInt64(&result.mismatches, 1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	result.duration = time.Since(start)
	return result, err
}

// benchOnce runs a single command and reports whether its result is the
// expected one.
func (a *app) benchOnce(ctx context.Context, op benchOperation, key, value string, worker, i int) (bool, error) {
	switch op {
	case benchGet:
		got, found, err := a.client.Get(ctx, key)
		return found && got == value, err
	case benchSet:
		k := key + ":" + strconv.Itoa(worker)
		resp, err := a.client.Set(ctx, k, strconv.Itoa(i), dicekv.SetOptions{EX: time.Minute})
		return err == nil && resp.Err() == nil, err
	case benchIncr:
		n, err := a.client.Incr(ctx, key+":counter:"+strconv.Itoa(worker))
		return n > 0, err
	case benchMiss:
		_, found, err := a.client.Get(ctx, key+":missing")
		return !found, err
	}
	return false, fmt.Errorf("invalid operation %q", op)
}
