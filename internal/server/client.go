package server

import (
	"github.com/rs/zerolog/log"

	"github.com/websoft9/sftpdesk/internal/config"
	"github.com/websoft9/sftpdesk/internal/remotefs"
	"github.com/websoft9/sftpdesk/internal/retry"
)

// NewFileClient builds the remote file client from the SSH settings in cfg.
func NewFileClient(cfg *config.Config) (*remotefs.Client, error) {
	hostKeys, err := remotefs.HostKeyCallback(cfg.SSHKnownHosts, cfg.SSHRequireHostKey)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.SSHRetryAttempts

	return remotefs.New(remotefs.Options{
		DialTimeout:      cfg.SSHDialTimeout,
		HandshakeTimeout: cfg.SSHHandshakeTimeout,
		HostKeyCallback:  hostKeys,
		Retry:            retryCfg,
		Logger:           &log.Logger,
	}), nil
}
