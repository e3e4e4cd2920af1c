package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/websoft9/sftpdesk/internal/remotefs"
)

func (a *app) lsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls HOST REMOTE_PATH",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.params(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			entries, err := client.ListFiles(ctx, p, args[1])
			if err != nil {
				return err
			}
			if a.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if entries == nil {
					entries = []remotefs.Entry{}
				}
				return enc.Encode(entries)
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().BoolVar(&a.jsonOut, "json", false, "print entries as JSON")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get HOST REMOTE_PATH LOCAL_PATH",
		Short: "Download a remote file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.params(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return client.DownloadFile(ctx, p, args[1], args[2])
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put HOST LOCAL_PATH REMOTE_PATH",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.params(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return client.UploadFile(ctx, p, args[1], args[2])
		},
	}
}

// printEntries writes one aligned row per entry: type, size, name.
// Directories show "-" for size.
func printEntries(w io.Writer, entries []remotefs.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		kind, size := "f", "-"
		if e.IsDir {
			kind = "d"
		}
		if e.Size != nil {
			size = strconv.FormatUint(*e.Size, 10)
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", kind, size, e.Name); err != nil {
			return err
		}
	}
	return tw.Flush()
}
