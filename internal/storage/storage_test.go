package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "ward/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "nested", "ward.db")
			cfg := Config{Driver: driver, Path: path, MaxRecords: 3}
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				r := Record{At: base.Add(time.Duration(i) * time.Second), Session: "main", Command: fmt.Sprintf("echo %d", i), Result: fmt.Sprint(i), Class: "plain", TookMS: int64(i)}
				if err := st.AppendRecord(ctx, r); err != nil {
					t.Fatalf("AppendRecord: %v", err)
				}
			}
			got, err := st.Recent(ctx, 2)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 2 || got[0].Command != "echo 3" || got[1].Command != "echo 4" {
				t.Fatalf("Recent = %+v", got)
			}
			if !got[1].At.Equal(base.Add(4*time.Second)) || got[1].TookMS != 4 || got[1].Session != "main" {
				t.Fatalf("round trip = %+v", got[1])
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			again, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer again.Close()
			got, err = again.Recent(ctx, 10)
			if err != nil || len(got) == 0 || got[len(got)-1].Command != "echo 4" {
				t.Fatalf("after reopen = %+v, %v", got, err)
			}
		})
	}
}

func TestFileReplaySkipsTornLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := filepath.Join(dir, "j.journal.jsonl")
	data := `{"command":"a","result":"1"}` + "\n" + `{"command":"b","res` + "\n" + `{"command":"c","result":"3"}` + "\n"
	if err := os.WriteFile(journal, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "j.log")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, _ := st.Recent(context.Background(), 0)
	if len(got) != 2 || got[0].Command != "a" || got[1].Command != "c" {
		t.Fatalf("Recent = %+v", got)
	}
}
