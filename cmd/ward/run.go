package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"ward/internal/app"
	logx "ward/pkg/logx"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Start a trigger script and keep serving it",
	Long: `Parses the script, prints one line per block, then keeps running until
SIGINT/SIGTERM. Under systemd (Type=notify) readiness is reported once the
session has started. Lines typed on stdin answer pending confirmations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		return runScript(cmd, args[0], once)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("once", false, "Exit when nothing is queued or scheduled any more")
}

func runScript(cmd *cobra.Command, path string, once bool) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out := &syncWriter{w: cmd.OutOrStdout()}
	a, err := newApp(cmd, out)
	if err != nil {
		return err
	}
	log := a.Logger().With(logx.String("comp", "cli"))

	ctx, reason, stop := signalContext(cmd.Context())
	defer stop()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	promptLoop(ctx, a, cmd.InOrStdin(), cmd.ErrOrStderr())

	id, lines, err := a.StartSession(ctx, string(src))
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
	if err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	log.Info("session running", logx.String("session", id), logx.String("script", path))

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify ready sent")
	}

	why := app.StopUnknown
	if once {
		if err := a.WaitSettled(ctx); err == nil {
			why = app.StopDrained
		}
	} else {
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
	}
	if why == app.StopUnknown {
		why = reason()
		if err := a.Err(); err != nil {
			why = app.StopFatalError
			log.Error("fatal error", logx.Err(err))
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, why)
	return a.Err()
}
