// Package sandboxtest starts a sandbox SFTP server on a loopback port for
// tests, in the spirit of net/http/httptest.
package sandboxtest

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/websoft9/sftpdesk/internal/sandbox"
)

const (
	User     = "tester"
	Password = "s3cret"
)

// Server is a running sandbox bound to 127.0.0.1.
type Server struct {
	*sandbox.Server
	Host string
	Port int
	// Root is the directory served as "/".
	Root string
}

// Start serves a fresh temporary directory and stops the server when the
// test ends.
func Start(t testing.TB) *Server {
	t.Helper()
	return StartAt(t, t.TempDir())
}

// StartAt serves root and stops the server when the test ends.
func StartAt(t testing.TB, root string) *Server {
	t.Helper()

	srv := &sandbox.Server{
		Root:     root,
		User:     User,
		Password: Password,
	}
	if err := srv.Prepare(); err != nil {
		t.Fatalf("sandbox prepare: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("sandbox listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &Server{Server: srv, Host: host, Port: port, Root: root}
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
