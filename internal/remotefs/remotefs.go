// Package remotefs lists, downloads and uploads files on a remote host over
// SFTP.
//
// Every public operation opens its own SSH connection and SFTP channel, runs
// one blocking operation and tears the connection down again:
//
//	Unconnected → Connected → Authenticated → ChannelOpen → Listing|Transferring → Closed
//
// Any failure jumps straight to Closed and surfaces an *OpError naming the
// step that failed. Nothing is pooled, cached or persisted; credentials are
// consumed by Connect and dropped with the Session.
package remotefs

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/websoft9/sftpdesk/internal/retry"
)

const (
	// DefaultPort is used when Params.Port is zero.
	DefaultPort = 22

	// copyBufferSize is the fixed chunk size for both transfer directions.
	copyBufferSize = 8192

	// uploadFileMode is applied to files created by Upload.
	uploadFileMode = 0o644
)

// Params carries the per-call connection parameters. They are never stored
// beyond the Session they open.
type Params struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Entry is one item of a remote directory listing.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	// Size is nil for directories.
	Size *uint64 `json:"size"`
}

// Options tune how a Client establishes sessions. The zero value matches
// the plain behavior: no timeouts, one attempt, no host key verification.
type Options struct {
	// DialTimeout bounds the TCP connect. Zero means no timeout.
	DialTimeout time.Duration
	// HandshakeTimeout bounds the SSH handshake plus authentication.
	// Zero means no timeout.
	HandshakeTimeout time.Duration
	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
	// Retry re-attempts session setup after transient connect, handshake
	// or channel failures. Authentication failures and transfer failures
	// are never retried. MaxAttempts below 2 disables retrying.
	Retry retry.Config
	// Logger receives step transitions at debug level. Nil uses the global
	// zerolog logger.
	Logger *zerolog.Logger
}
