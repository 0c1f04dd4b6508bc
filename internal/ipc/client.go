package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// Send performs one request/response exchange with the owner at path.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// Command sends a bare command to the running owner.
func Command(ctx context.Context, path string, command string, timeout time.Duration) (Response, error) {
	resp, err := Send(ctx, path, Request{Command: command}, timeout)
	if err != nil {
		if NotRunning(err) {
			return Response{}, fmt.Errorf("no practice session is running: %w", err)
		}
		return Response{}, err
	}
	return resp, nil
}

// Probe reports whether a responsive owner is listening on path.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: "status"}, timeout)
	if err == nil {
		return true, nil
	}
	if NotRunning(err) {
		return false, nil
	}
	return false, fmt.Errorf("probe socket: %w", err)
}

// NotRunning reports dial failures that mean nobody owns the socket.
func NotRunning(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}
