package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the root command in-process. Commands share global flag
// state, so these tests do not run in parallel.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExecPrintsResults(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "ward.yaml", "logging:\n  level: error\n")

	out, err := run(t, "exec", "--config", cfg, "echo hi; echo there")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out != "hi\nthere\n" {
		t.Fatalf("out = %q", out)
	}
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "ward.yaml", "logging:\n  level: error\n")
	script := writeFile(t, dir, "job.ward", "# modules: clock\nif wait: 0\n- echo done\n")

	out, err := run(t, "run", "--config", cfg, "--once", script)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "if wait: 0 -> Info: scheduled") || !strings.Contains(out, "] done\n") {
		t.Fatalf("out = %q", out)
	}
}

func TestValidateReportsUnrecognized(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "ward.yaml", "logging:\n  level: error\n")
	good := writeFile(t, dir, "good.ward", "# modules: clock, files\nif time 06:00\n- echo up\n")
	bad := writeFile(t, dir, "bad.ward", "# modules: clock\nif moon is full\n- echo howl\n")

	out, err := run(t, "validate", "--config", cfg, good)
	if err != nil || !strings.Contains(out, "script is valid") {
		t.Fatalf("good: %q, %v", out, err)
	}
	out, err = run(t, "validate", "--config", cfg, bad)
	if !errors.Is(err, errInvalidScript) || !strings.Contains(out, "unrecognized: if moon is full") {
		t.Fatalf("bad: %q, %v", out, err)
	}
}

func TestJournalNeedsStorage(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "ward.yaml", "logging:\n  level: error\nstorage:\n  driver: sqlite\n  path: "+filepath.Join(dir, "ward.db")+"\n")

	if _, err := run(t, "exec", "--config", cfg, "echo saved"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	out, err := run(t, "journal", "--config", cfg, "-n", "5")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(out, "echo saved => saved") {
		t.Fatalf("out = %q", out)
	}
}

func TestHelpListsSupportedOperators(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "||") {
		t.Fatalf("help advertises an operator the parser does not accept:\n%s", out)
	}
	for _, op := range []string{`"&&"`, `"parallel:"`, "if/else"} {
		if !strings.Contains(out, op) {
			t.Fatalf("help missing %s:\n%s", op, out)
		}
	}
}
