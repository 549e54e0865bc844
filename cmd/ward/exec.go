package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ward/internal/app"
)

var execCmd = &cobra.Command{
	Use:   "exec <command line>",
	Short: "Run a command line and wait until it settles",
	Long: `Enqueues the command line, prints every result line, and exits once the
queue is idle and no timed cycle or delivery is pending.`,
	Example: `  ward exec 'echo a; sleep 1 && echo b'
  ward exec 'cycle 3t 1s = echo tick'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		return runExec(cmd, strings.Join(args, " "), timeout)
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().Duration("timeout", 0, "Give up after this long (0 waits forever)")
}

func runExec(cmd *cobra.Command, line string, timeout time.Duration) error {
	a, err := newApp(cmd, &syncWriter{w: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	ctx, reason, stop := signalContext(cmd.Context())
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	promptLoop(ctx, a, cmd.InOrStdin(), cmd.ErrOrStderr())

	if _, err := a.Exec(line); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	waitErr := a.WaitSettled(ctx)

	why := app.StopDrained
	if waitErr != nil {
		why = reason()
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, why)

	if errors.Is(waitErr, context.DeadlineExceeded) {
		return errors.New("timed out before the queue settled")
	}
	return nil
}
