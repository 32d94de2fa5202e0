package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// Client issues control commands to a running daemon socket. Each call
// is one dial/request/response exchange bounded by the timeout.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient targets the daemon socket at path.
func NewClient(path string, timeout time.Duration) *Client {
	return &Client{path: path, timeout: timeout}
}

// Do sends one command and returns the daemon's answer. The caller's pid
// rides along so daemon logs can attribute the request.
func (c *Client) Do(ctx context.Context, command Command) (Response, error) {
	return c.roundTrip(ctx, Request{Command: command, ClientPID: os.Getpid()})
}

// Probe reports whether a responsive daemon owns the socket. A missing
// socket or a refused connection means no daemon, not an error.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	_, err := c.Do(ctx, CommandStatus)
	if err == nil {
		return true, nil
	}
	if IsSocketMissing(err) || IsConnectionRefused(err) {
		return false, nil
	}
	return false, fmt.Errorf("probe socket: %w", err)
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// IsSocketMissing reports absent-socket failures.
func IsSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist)
}

// IsConnectionRefused reports no-listener failures.
func IsConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
