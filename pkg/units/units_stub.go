//go:build !linux

package units

import "context"

type Client struct{}

func Dial(context.Context) (*Client, error) { return nil, ErrUnsupported }

func (c *Client) Close() error { return nil }

func (c *Client) State(context.Context, string) (Status, error) {
	return Status{}, ErrUnsupported
}
