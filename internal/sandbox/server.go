// Package sandbox runs a small SSH server that exposes one local directory
// over SFTP with password authentication.
//
// It exists so the file browser can be developed and tested without a real
// NAS. It is not hardened for exposure beyond localhost.
package sandbox

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"

	"github.com/websoft9/sftpdesk/internal/metrics"
)

// defaultRateLimit is the maximum number of new TCP connections accepted per second.
const defaultRateLimit rate.Limit = 50

// defaultMaxPending is the maximum number of concurrent unauthenticated SSH
// handshakes allowed in flight simultaneously.
const defaultMaxPending = 50

// handshakeTimeout is the deadline for the SSH handshake + password check.
// After the session is authenticated the deadline is cleared.
const handshakeTimeout = 15 * time.Second

// hostKeyFile is the filename (within DataDir) that stores the persistent host key.
const hostKeyFile = "sandbox_host_key"

// Server serves Root over SFTP to a single user/password pair.
type Server struct {
	// DataDir persists the host key. Empty means a fresh key per process.
	DataDir string
	// ListenAddr is the address ListenAndServe binds to (default "127.0.0.1:2022").
	ListenAddr string
	// Root is the directory exposed as "/".
	Root string
	// User and Password are the only accepted credentials.
	User     string
	Password string
	// RateLimit sets the maximum new connections/second (default 50).
	RateLimit rate.Limit
	// MaxPending caps simultaneous unauthenticated handshakes (default 50).
	MaxPending int

	initOnce sync.Once
	initErr  error
	sshCfg   *ssh.ServerConfig
	hostKey  ssh.Signer
	limiter  *rate.Limiter
	sem      chan struct{} // semaphore: slot acquired before handshake
	conns    *registry
	accepted atomic.Int64
}

// ListenAndServe binds ListenAddr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Prepare(); err != nil {
		return err
	}

	addr := s.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:2022"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sandbox: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On return the
// listener and every open connection are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Prepare(); err != nil {
		_ = ln.Close()
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Str("root", s.Root).Msg("sandbox: listening")

	// Close listener when context is cancelled.
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer s.conns.closeAll()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient accept error; keep looping.
			continue
		}

		// Connection-rate gate.
		if !s.limiter.Allow() {
			metrics.RecordSandboxConnection("rejected")
			_ = conn.Close()
			continue
		}

		// Pending handshake gate.
		select {
		case s.sem <- struct{}{}:
		default:
			metrics.RecordSandboxConnection("rejected")
			_ = conn.Close()
			continue
		}

		go s.handleConn(conn)
	}
}

// Accepted returns the number of connections that completed authentication.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// Active returns the number of authenticated connections still open.
func (s *Server) Active() int {
	return s.conns.len()
}

// HostKey returns the server's public host key. Prepare must have succeeded.
func (s *Server) HostKey() ssh.PublicKey {
	if s.hostKey == nil {
		return nil
	}
	return s.hostKey.PublicKey()
}

// handleConn performs the SSH handshake and serves session channels until
// the client disconnects.
func (s *Server) handleConn(conn net.Conn) {
	// Short deadline covers the handshake + password check only.
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshCfg)
	<-s.sem
	if err != nil {
		log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("sandbox: handshake failed")
		metrics.RecordSandboxConnection("auth_failed")
		return // handshake failed; conn already closed by ssh pkg
	}
	_ = conn.SetDeadline(time.Time{})

	id := uuid.NewString()
	logger := log.With().Str("conn", id).Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Str("user", sshConn.User()).Msg("sandbox: authenticated")

	s.accepted.Add(1)
	metrics.RecordSandboxConnection("accepted")
	s.conns.add(id, sshConn)
	defer func() {
		s.conns.remove(id)
		_ = sshConn.Close()
		logger.Info().Msg("sandbox: disconnected")
	}()

	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "only session channels are served")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			logger.Debug().Err(err).Msg("sandbox: accept channel")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveSession(ch, requests)
		}()
	}
	wg.Wait()
}

// serveSession waits for an "sftp" subsystem request on ch and then runs a
// request server rooted at s.Root. Every other request is refused.
func (s *Server) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	started := make(chan bool, 1)
	go func() {
		sent := false
		for req := range requests {
			ok := !sent && req.Type == "subsystem" && subsystemName(req.Payload) == "sftp"
			if req.WantReply {
				_ = req.Reply(ok, nil)
			}
			if ok {
				sent = true
				started <- true
			}
		}
		if !sent {
			started <- false
		}
	}()

	if !<-started {
		return
	}

	server := sftp.NewRequestServer(ch, newRootHandlers(s.Root))
	if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
		log.Debug().Err(err).Msg("sandbox: sftp server stopped")
	}
	_ = server.Close()
}

func subsystemName(payload []byte) string {
	var msg struct{ Name string }
	if err := ssh.Unmarshal(payload, &msg); err != nil {
		return ""
	}
	return msg.Name
}

// --- initialisation -------------------------------------------------------

// Prepare validates the configuration and loads the host key. It is called
// by Serve and may be called earlier to read HostKey.
func (s *Server) Prepare() error {
	s.initOnce.Do(func() { s.initErr = s.init() })
	return s.initErr
}

func (s *Server) init() error {
	if s.Root == "" {
		return fmt.Errorf("sandbox: Server.Root must not be empty")
	}
	info, err := os.Stat(s.Root)
	if err != nil {
		return fmt.Errorf("sandbox: root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sandbox: root %s is not a directory", s.Root)
	}
	if s.User == "" {
		return fmt.Errorf("sandbox: Server.User must not be empty")
	}

	rl := s.RateLimit
	if rl == 0 {
		rl = defaultRateLimit
	}
	s.limiter = rate.NewLimiter(rl, int(rl)+1)

	mp := s.MaxPending
	if mp == 0 {
		mp = defaultMaxPending
	}
	s.sem = make(chan struct{}, mp)
	s.conns = newRegistry()

	hostKey, err := s.loadOrGenerateHostKey()
	if err != nil {
		return err
	}
	s.hostKey = hostKey

	cfg := &ssh.ServerConfig{
		PasswordCallback: s.checkPassword,
		ServerVersion:    "SSH-2.0-sftpdesk-sandbox",
	}
	cfg.AddHostKey(hostKey)
	s.sshCfg = cfg
	return nil
}

func (s *Server) checkPassword(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	userOK := subtle.ConstantTimeCompare([]byte(meta.User()), []byte(s.User)) == 1
	passOK := subtle.ConstantTimeCompare(password, []byte(s.Password)) == 1
	if userOK && passOK {
		return nil, nil
	}
	return nil, fmt.Errorf("sandbox: password rejected for %q", meta.User())
}

// loadOrGenerateHostKey reads the Ed25519 host key from DataDir/sandbox_host_key.
// If the file does not exist, a new key is generated and saved. Without a
// DataDir the key lives only in memory.
func (s *Server) loadOrGenerateHostKey() (ssh.Signer, error) {
	if s.DataDir == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("sandbox: generate host key: %w", err)
		}
		return ssh.NewSignerFromKey(priv)
	}

	path := filepath.Join(s.DataDir, hostKeyFile)

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	if err == nil {
		// File exists: verify it contains a PEM block before full parsing.
		if b, _ := pem.Decode(data); b == nil {
			return nil, fmt.Errorf("sandbox: host key file %s contains no PEM block", path)
		}
		key, err := ssh.ParseRawPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("sandbox: parse host key: %w", err)
		}
		return ssh.NewSignerFromKey(key)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sandbox: generate host key: %w", err)
	}

	pemBytes, err := encodeEd25519PEM(priv)
	if err != nil {
		return nil, fmt.Errorf("sandbox: encode host key: %w", err)
	}

	if err := os.MkdirAll(s.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("sandbox: create data dir: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("sandbox: write host key: %w", err)
	}
	log.Info().Str("path", path).Msg("sandbox: generated new host key")

	return ssh.NewSignerFromKey(priv)
}

// encodeEd25519PEM marshals an Ed25519 private key to OpenSSH PEM format.
func encodeEd25519PEM(priv ed25519.PrivateKey) ([]byte, error) {
	key, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(key), nil
}
