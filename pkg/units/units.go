// Package units reads systemd unit state over D-Bus.
package units

import (
	"errors"
	"strings"
)

var ErrUnsupported = errors.New("units: systemd is only available on linux")

// Status is the core state of one unit. Active is "unknown" when the unit
// does not exist.
type Status struct {
	Name        string
	Active      string // active, inactive, failed, activating, ...
	SubState    string // running, dead, exited, ...
	LoadState   string // loaded, not-found, ...
	Description string
}

func (s Status) NotFound() bool { return s.LoadState == "not-found" }

// String renders "name: active (running)".
func (s Status) String() string {
	if s.NotFound() {
		return s.Name + ": not found"
	}
	if s.SubState == "" {
		return s.Name + ": " + s.Active
	}
	return s.Name + ": " + s.Active + " (" + s.SubState + ")"
}

// UnitName appends ".service" to bare names.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func notFound(name string) Status {
	return Status{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
