package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ward/internal/app"
)

var errInvalidScript = errors.New("script has unrecognized conditions")

var validateCmd = &cobra.Command{
	Use:   "validate <script>",
	Short: "Check a script without running it",
	Long:  `Parses the script header and blocks and reports condition lines no listed trigger module recognizes.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Stop(cmd.Context(), app.StopAppStop)

	rep, err := a.Validate(string(src))
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "modules: %s\nblocks: %d\n", strings.Join(rep.Modules, ", "), rep.Blocks)
	if rep.OK() {
		fmt.Fprintln(out, "script is valid")
		return nil
	}
	for _, c := range rep.Unrecognized {
		fmt.Fprintf(out, "unrecognized: %s\n", c)
	}
	return errInvalidScript
}
