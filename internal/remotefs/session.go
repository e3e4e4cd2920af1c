package remotefs

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateAuthenticated
	StateChannelOpen
	StateListing
	StateTransferring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateChannelOpen:
		return "channel_open"
	case StateListing:
		return "listing"
	case StateTransferring:
		return "transferring"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Session is one authenticated SSH connection plus its SFTP channel.
// It runs exactly one of List, Download or Upload and closes itself when
// that operation returns. A Session must not be shared between goroutines.
type Session struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	state      State
	logger     zerolog.Logger

	// transferred is the number of bytes copied by Download or Upload.
	transferred int64
}

// Connect dials p.Host:p.Port, performs the SSH handshake, authenticates
// with the password and opens the SFTP subsystem. The first failing step is
// returned as an *OpError; nothing is retried here.
func (c *Client) Connect(ctx context.Context, p Params) (*Session, error) {
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(p.Host, strconv.Itoa(port))
	logger := c.logger().With().Str("addr", addr).Str("user", p.Username).Logger()

	dialer := net.Dialer{Timeout: c.Options.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, opErr(StepConnect, addr, err)
	}
	logger.Debug().Stringer("state", StateConnected).Msg("remotefs: tcp connected")

	sshClient, err := c.handshake(ctx, conn, addr, p)
	if err != nil {
		logger.Debug().Err(err).Msg("remotefs: handshake failed")
		return nil, err
	}
	logger.Debug().Stringer("state", StateAuthenticated).Msg("remotefs: authenticated")

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, opErr(StepChannel, addr, err)
	}
	logger.Debug().Stringer("state", StateChannelOpen).Msg("remotefs: sftp channel open")

	return &Session{
		sshClient:  sshClient,
		sftpClient: sftpClient,
		state:      StateChannelOpen,
		logger:     logger,
	}, nil
}

// handshake runs the SSH key exchange and password authentication on conn.
// conn is closed on failure.
func (c *Client) handshake(ctx context.Context, conn net.Conn, addr string, p Params) (*ssh.Client, error) {
	// challenged flips once the server asks for the password, which means
	// the key exchange finished and any later failure is an auth failure.
	var challenged atomic.Bool

	hostKeyCallback := c.Options.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}
	cfg := &ssh.ClientConfig{
		User: p.Username,
		Auth: []ssh.AuthMethod{
			ssh.PasswordCallback(func() (string, error) {
				challenged.Store(true)
				return p.Password, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
	}

	if t := c.Options.HandshakeTimeout; t > 0 {
		_ = conn.SetDeadline(time.Now().Add(t))
	}

	type handshakeResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan handshakeResult, 1)
	go func() {
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			ch <- handshakeResult{nil, err}
			return
		}
		ch <- handshakeResult{ssh.NewClient(sshConn, chans, reqs), nil}
	}()

	var r handshakeResult
	select {
	case <-ctx.Done():
		// Closing the conn unblocks the handshake goroutine.
		_ = conn.Close()
		if late := <-ch; late.client != nil {
			_ = late.client.Close()
		}
		r.err = ctx.Err()
	case r = <-ch:
	}

	if r.err != nil {
		_ = conn.Close()
		// A cancelled context is never an auth failure, even after the
		// password prompt.
		if ctx.Err() != nil {
			return nil, opErr(StepHandshake, addr, r.err)
		}
		if challenged.Load() || isAuthFailure(r.err) {
			return nil, opErr(StepAuth, addr, r.err)
		}
		return nil, opErr(StepHandshake, addr, r.err)
	}

	_ = conn.SetDeadline(time.Time{})
	return r.client, nil
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Transferred returns the number of bytes copied by Download or Upload.
func (s *Session) Transferred() int64 {
	return s.transferred
}

// Close releases the SFTP channel and the SSH connection. It is safe to
// call more than once.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	_ = s.sftpClient.Close()
	err := s.sshClient.Close()
	s.logger.Debug().Stringer("state", StateClosed).Msg("remotefs: session closed")
	return err
}

// begin moves a fresh session into its single operation state.
func (s *Session) begin(next State) error {
	if s.state != StateChannelOpen {
		return ErrSessionUsed
	}
	s.state = next
	s.logger.Debug().Stringer("state", next).Msg("remotefs: operation started")
	return nil
}
