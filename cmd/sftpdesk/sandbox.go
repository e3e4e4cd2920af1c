package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/websoft9/sftpdesk/internal/sandbox"
)

func (a *app) sandboxCmd() *cobra.Command {
	var (
		addr, root, user, password, dataDir string
	)
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Serve a local directory over SFTP for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := &sandbox.Server{
				ListenAddr: firstNonEmpty(addr, a.cfg.SandboxAddr),
				Root:       firstNonEmpty(root, a.cfg.SandboxRoot),
				User:       firstNonEmpty(user, a.cfg.SandboxUser),
				Password:   firstNonEmpty(password, a.cfg.SandboxPassword),
				DataDir:    firstNonEmpty(dataDir, a.cfg.SandboxDataDir),
			}
			if srv.Password == "" {
				return errors.New("sandbox needs a password: use --password or SANDBOX_PASSWORD")
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $SANDBOX_ADDR)")
	cmd.Flags().StringVar(&root, "root", "", "directory to serve (default $SANDBOX_ROOT)")
	cmd.Flags().StringVar(&user, "user", "", "accepted username (default $SANDBOX_USER)")
	cmd.Flags().StringVar(&password, "password", "", "accepted password (default $SANDBOX_PASSWORD)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for the persistent host key")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
