package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// requestTimeout bounds one client connection's request/response
// exchange so a stalled client can never wedge the accept loop.
const requestTimeout = 5 * time.Second

// Handler processes one control-socket command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers one-shot command requests on the daemon control socket.
// Unknown verbs are rejected before they reach the handler.
type Server struct {
	handler Handler
	logger  *slog.Logger
}

// NewServer wraps a handler for serving. A nil logger discards logs.
func NewServer(handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{handler: handler, logger: logger}
}

// Serve accepts clients until context cancellation or listener close and
// waits for in-flight exchanges before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			s.serveConn(ctx, c)
		}(conn)
	}
}

// serveConn runs a single request/response exchange under a deadline.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		s.reject(conn, fmt.Sprintf("read request: %v", err))
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reject(conn, fmt.Sprintf("decode request: %v", err))
		return
	}
	if !req.Command.Known() {
		s.reject(conn, fmt.Sprintf("unknown command: %s", req.Command))
		return
	}

	resp := s.handler.Handle(ctx, req)
	s.logger.Debug("control request served",
		"command", req.Command,
		"client_pid", req.ClientPID,
		"ok", resp.OK,
		"state", resp.State)

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("control response write failed",
			"command", req.Command, "error", err)
	}
}

func (s *Server) reject(conn net.Conn, reason string) {
	s.logger.Warn("control request rejected", "reason", reason)
	_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: reason})
}
