package modbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a Modbus/TCP master bound to one endpoint. A single in-flight
// request at a time keeps transaction handling trivial; batches are issued
// sequentially by the adapter.
type Client struct {
	address string
	timeout time.Duration

	mu            sync.Mutex
	conn          net.Conn
	transactionID uint16
	connected     bool
}

func NewClient(address string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		address: address,
		timeout: timeout,
	}
}

// Connect establishes the TCP connection. Calling it while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.address, err)
	}

	c.conn = conn
	c.connected = true
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Request sends a frame and waits for the matching response. Any transport
// failure closes the connection; the caller decides whether to reconnect.
func (c *Client) Request(ctx context.Context, req *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, fmt.Errorf("not connected to %s", c.address)
	}

	c.transactionID++
	req.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.dropConn(fmt.Errorf("set deadline: %w", err))
	}

	if _, err := c.conn.Write(req.Encode()); err != nil {
		return nil, c.dropConn(fmt.Errorf("write: %w", err))
	}

	// MBAP header first, then the declared remainder.
	header := make([]byte, 7)
	if _, err := readFull(c.conn, header); err != nil {
		return nil, c.dropConn(fmt.Errorf("read header: %w", err))
	}

	length := int(header[4])<<8 | int(header[5])
	if length < 2 || length > 256 {
		return nil, c.dropConn(fmt.Errorf("invalid response length %d", length))
	}

	rest := make([]byte, length-1) // UnitID already consumed with the header
	if _, err := readFull(c.conn, rest); err != nil {
		return nil, c.dropConn(fmt.Errorf("read body: %w", err))
	}

	resp, err := DecodeFrame(append(header, rest...))
	if err != nil {
		return nil, c.dropConn(err)
	}
	if resp.TransactionID != req.TransactionID {
		return nil, c.dropConn(fmt.Errorf("transaction mismatch: sent %d, got %d", req.TransactionID, resp.TransactionID))
	}

	return resp, nil
}

// dropConn closes the socket after a transport fault so the next cycle
// starts from a clean state.
func (c *Client) dropConn(err error) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
