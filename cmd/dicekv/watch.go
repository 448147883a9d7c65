package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func (a *app) watchCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch [command] [args...]",
		Short: "Streams a value each time it changes",
		Long: `Subscribes to a watch command and prints every push until interrupted.
The .WATCH suffix is optional:

  dicekv watch get greeting
  dicekv watch ZRANGE.WATCH leaderboard 0 9`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stream, err := a.client.Watch(ctx, watchName(args[0]), args[1:]...)
			if err != nil {
				return err
			}
			// UNWATCH must reach the server after an interrupt too.
			defer a.client.Unwatch(context.WithoutCancel(ctx), stream)

			a.log.WithField("fingerprint", stream.Fingerprint()).Debug("watching")

			out := cmd.OutOrStdout()
			for seen := 0; count == 0 || seen < count; seen++ {
				select {
				case update, ok := <-stream.Updates():
					if !ok {
						return stream.Err()
					}
					if err := printResponse(out, update); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many updates (0 streams until interrupted)")
	cmd.Flags().SetInterspersed(false)
	return cmd
}
