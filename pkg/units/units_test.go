package units

import (
	"errors"
	"testing"
)

func TestUnitName(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"nginx", "nginx.service"},
		{" nginx ", "nginx.service"},
		{"backup.timer", "backup.timer"},
		{"nginx.service", "nginx.service"},
		{"", ""},
	}
	for _, c := range cases {
		if got := UnitName(c.in); got != c.want {
			t.Fatalf("UnitName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	if s := (Status{Name: "nginx", Active: "active", SubState: "running", LoadState: "loaded"}).String(); s != "nginx: active (running)" {
		t.Fatalf("String = %q", s)
	}
	if s := notFound("ghost").String(); s != "ghost: not found" {
		t.Fatalf("String = %q", s)
	}
	if s := (Status{Name: "x", Active: "failed"}).String(); s != "x: failed" {
		t.Fatalf("String = %q", s)
	}
}

func TestNoSuchUnit(t *testing.T) {
	t.Parallel()
	if !isNoSuchUnitErr(errors.New("org.freedesktop.systemd1.NoSuchUnit: Unit x.service not loaded.")) {
		t.Fatal("NoSuchUnit not detected")
	}
	if isNoSuchUnitErr(nil) || isNoSuchUnitErr(errors.New("permission denied")) {
		t.Fatal("false positive")
	}
}
