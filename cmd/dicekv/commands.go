package main

import (
	"fmt"
	"strings"

	"github.com/pior/dicekv"
	"github.com/spf13/cobra"
)

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping [message]",
		Short: "Checks the server answers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Exec(cmd.Context(), dicekv.CmdPing, args...)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, found, err := a.client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), nilValue)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	var opts dicekv.SetOptions

	cmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value of a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Set(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.EX, "ex", 0, "expire after this duration, second precision")
	flags.DurationVar(&opts.PX, "px", 0, "expire after this duration, millisecond precision")
	flags.BoolVar(&opts.KeepTTL, "keepttl", false, "keep the current time to live")
	flags.BoolVar(&opts.NX, "nx", false, "only set the key if it does not exist")
	flags.BoolVar(&opts.XX, "xx", false, "only set the key if it exists")
	flags.BoolVar(&opts.Get, "get", false, "print the previous value")
	cmd.MarkFlagsMutuallyExclusive("nx", "xx")
	cmd.MarkFlagsMutuallyExclusive("ex", "px", "keepttl")
	return cmd
}

func (a *app) delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del [key...]",
		Short: "Deletes keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client.Del(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func (a *app) incrCmd() *cobra.Command {
	var by int64

	cmd := &cobra.Command{
		Use:   "incr [key]",
		Short: "Increments the integer value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client.IncrBy(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&by, "by", 1, "increment, negative to decrement")
	return cmd
}

func (a *app) execCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [command] [args...]",
		Short: "Runs any request/response command",
		Long: `Runs any request/response command by name, e.g.

  dicekv exec ZADD leaderboard 10 alice 12 bob
  dicekv exec ZRANGE leaderboard 0 -1 WITHSCORES`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.Exec(cmd.Context(), args[0], args[1:]...)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
	// Arguments such as -1 belong to the command, not to the flag parser.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints connection pool statistics after a ping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.client.Ping(cmd.Context()); err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), a.client)
			return nil
		},
	}
}

// watchName turns "get" into "GET.WATCH"; names already ending in .WATCH
// are kept.
func watchName(name string) string {
	name = strings.ToUpper(name)
	if strings.HasSuffix(name, dicekv.WatchSuffix) {
		return name
	}
	return name + dicekv.WatchSuffix
}
