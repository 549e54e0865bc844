package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"ward/internal/app"
	"ward/internal/eventbus"
	"ward/internal/interact"
	"ward/internal/queue"
)

var rootCmd = &cobra.Command{
	Use:   "ward",
	Short: "Ward runs queued commands and trigger scripts",
	Long: `Ward executes command lines (";", "&", "&&", "parallel:", if/else chains and
cycles) through a serial queue, and runs scripts whose condition blocks
schedule actions by clock, file state or systemd unit state.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (JSON or YAML); defaults apply when empty")
}

// newApp builds the app from the --config flag, printing result lines to out.
func newApp(cmd *cobra.Command, out io.Writer) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	return app.New(app.Options{
		ConfigPath: path,
		Sink:       func(r queue.Result) { fmt.Fprintln(out, formatResult(r)) },
	})
}

// syncWriter serializes result lines written from queue goroutines with the
// command's own output.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func formatResult(r queue.Result) string {
	if r.Session == "" || r.Session == queue.DefaultSession {
		return r.Text
	}
	id := r.Session
	if len(id) > 8 {
		id = id[:8]
	}
	return "[" + id + "] " + r.Text
}

// signalContext is cancelled on SIGINT or SIGTERM. reason reports which one.
func signalContext(parent context.Context) (ctx context.Context, reason func() app.StopReason, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	got := make(chan app.StopReason, 1)
	go func() {
		select {
		case s := <-sigs:
			if s == syscall.SIGTERM {
				got <- app.StopSIGTERM
			} else {
				got <- app.StopSIGINT
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	reason = func() app.StopReason {
		select {
		case r := <-got:
			return r
		default:
			return app.StopAppStop
		}
	}
	stop = func() {
		signal.Stop(sigs)
		cancel()
	}
	return ctx, reason, stop
}

// promptLoop shows interactive prompts on stderr and feeds stdin lines back
// as answers until ctx ends.
func promptLoop(ctx context.Context, a *app.App, in io.Reader, errOut io.Writer) {
	events, unsub := a.Subscribe(16)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type != eventbus.InteractPending {
					continue
				}
				if st, ok := e.Data.(interact.Step); ok {
					fmt.Fprintf(errOut, "? %s [yes/no] ", st.Prompt)
				}
			}
		}
	}()
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			answer := strings.TrimSpace(sc.Text())
			if answer == "" {
				continue
			}
			if !a.Answer(answer) {
				fmt.Fprintln(errOut, "no pending prompt")
			}
		}
	}()
}
