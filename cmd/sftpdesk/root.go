package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/websoft9/sftpdesk/internal/config"
	"github.com/websoft9/sftpdesk/internal/logging"
	"github.com/websoft9/sftpdesk/internal/remotefs"
	"github.com/websoft9/sftpdesk/internal/server"
	"github.com/websoft9/sftpdesk/internal/server/middleware"
)

// passwordEnv is read when --password is not given.
const passwordEnv = "SFTPDESK_PASSWORD"

type app struct {
	cfg *config.Config

	port     int
	user     string
	password string
	jsonOut  bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "sftpdesk",
		Short:        "Browse, download and upload files on a NAS over SFTP",
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.Env)
			return nil
		},
	}

	remote := []*cobra.Command{a.lsCmd(), a.getCmd(), a.putCmd()}
	for _, c := range remote {
		c.Flags().IntVarP(&a.port, "port", "p", remotefs.DefaultPort, "SSH port")
		c.Flags().StringVarP(&a.user, "user", "u", os.Getenv("USER"), "SSH username")
		c.Flags().StringVar(&a.password, "password", "", "SSH password; visible in ps and shell history, prefer $"+passwordEnv)
	}
	root.AddCommand(remote...)
	root.AddCommand(a.serveCmd(), a.sandboxCmd(), a.tokenCmd(), a.versionCmd())

	return root
}

func (a *app) params(host string) (remotefs.Params, error) {
	password := a.password
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	if password == "" {
		return remotefs.Params{}, errors.New("no password: use --password or " + passwordEnv)
	}
	return remotefs.Params{
		Host:     host,
		Port:     a.port,
		Username: a.user,
		Password: password,
	}, nil
}

func (a *app) client() (*remotefs.Client, error) {
	return server.NewFileClient(a.cfg)
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket bridge for the desktop frontend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return server.Run(ctx, a.cfg)
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a random value for BRIDGE_TOKEN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.GenerateToken()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), a.cfg.Version)
			return err
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
