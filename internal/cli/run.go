package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zoobzio/replica"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Run a context and print its changes",
	Long:    `Start a context, replicate with its peers and print every change until interrupted.`,
	Args:    cobra.NoArgs,
	GroupID: "context",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(runContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sess, err := openSession(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer sess.Close()

		out := cmd.OutOrStdout()
		cancel, err := sess.state.OnChange(func(c replica.Change) {
			printChange(out, c)
		})
		if err != nil {
			return err
		}
		defer cancel()

		if err := sess.state.WaitReady(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		snapshot, err := sess.state.Snapshot()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ready as %s (scope %d): %s\n", sess.state.Role(), sess.state.ScopeID(), formatValue(snapshot))

		<-ctx.Done()
		if err := sess.state.LastError(); err != nil {
			printError(cmd.ErrOrStderr(), err)
		}
		return nil
	},
}

// runContext returns the command context or a background one.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
