//go:build linux

package units

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Client is a system bus connection to systemd.
type Client struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// Dial connects to the system bus. If ctx is nil, context.Background() is used.
func Dial(ctx context.Context) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// State looks a unit up. It uses ListUnitsByPatterns for the common case and
// falls back to the property map for units systemd has not loaded.
func (c *Client) State(ctx context.Context, name string) (Status, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return Status{}, fmt.Errorf("systemd connection is closed")
	}

	unit := UnitName(name)
	list, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{unit})
	if err == nil && len(list) > 0 {
		u := list[0]
		for _, x := range list {
			if x.Name == unit {
				u = x
				break
			}
		}
		if u.LoadState == "not-found" || u.SubState == "not-found" {
			return notFound(name), nil
		}
		return Status{Name: name, Active: u.ActiveState, SubState: u.SubState, LoadState: u.LoadState, Description: u.Description}, nil
	}

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return notFound(name), nil
		}
		return Status{}, fmt.Errorf("failed to get status for %s: %w", name, err)
	}
	st := Status{
		Name:        name,
		Active:      stringProp(props, "ActiveState"),
		SubState:    stringProp(props, "SubState"),
		LoadState:   stringProp(props, "LoadState"),
		Description: stringProp(props, "Description"),
	}
	if st.NotFound() {
		return notFound(name), nil
	}
	return st, nil
}

func stringProp(props map[string]interface{}, key string) string {
	v, _ := props[key].(string)
	return v
}
