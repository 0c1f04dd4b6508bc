package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler processes one control command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers one JSON line per connection.
type Server struct {
	Handler Handler
	Logger  *slog.Logger
	// IdleTimeout bounds how long a client may take to send its request.
	IdleTimeout time.Duration
}

// Serve accepts clients until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if s.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
	}

	enc := json.NewEncoder(conn)
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		_ = enc.Encode(Response{Error: fmt.Sprintf("read request: %v", err)})
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		_ = enc.Encode(Response{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	resp := s.Handler.Handle(ctx, req)
	if s.Logger != nil {
		s.Logger.Debug("control command", slog.String("command", req.Command), slog.Bool("ok", resp.OK))
	}
	_ = enc.Encode(resp)
}

// Serve runs a Server with default settings.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	srv := &Server{Handler: handler, IdleTimeout: 2 * time.Second}
	return srv.Serve(ctx, listener)
}
