package server

import (
	"fmt"
	"net"
	"time"
)

// Client is a TCP client for Server. It is not safe for concurrent use.
type Client struct {
	conn net.Conn
}

// Dial connects to a Server, running the auth handshake when token is set.
func Dial(address, token string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if token != "" {
		if err := Authenticate(conn, token); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &Client{conn: conn}, nil
}

// Do sends one request and waits for its response.
func (c *Client) Do(r Request) (*Response, error) {
	if err := WriteMessage(c.conn, r.Bytes()); err != nil {
		return nil, err
	}
	data, err := ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return DecodeResponse(data)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
