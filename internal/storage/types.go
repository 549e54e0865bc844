package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty or "none" Driver disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxRecords bounds what the store keeps; 0 means 10000.
	MaxRecords int
}

func (c Config) maxRecords() int {
	if c.MaxRecords <= 0 {
		return 10000
	}
	return c.MaxRecords
}

// Record is one journaled result line. Keep it compact and schema-stable.
type Record struct {
	At      time.Time `json:"at"`
	Session string    `json:"session"`
	Command string    `json:"command"`
	Result  string    `json:"result"`
	Class   string    `json:"class"`
	TookMS  int64     `json:"took_ms"`
}
