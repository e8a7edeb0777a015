package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/docshare/linkdrive/internal/client"
	"github.com/docshare/linkdrive/internal/output"
	"github.com/spf13/cobra"
)

func newLsCommand(a *app) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Long: `List the root folder or the folder at path.

  linkdrive ls
  linkdrive ls /Documents
  linkdrive ls -R /Documents`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) > 0 {
				p = args[0]
			}

			params := url.Values{"path": {p}}
			if recursive {
				params.Set("recursive", "true")
			}
			var resp client.Response[[]client.Node]
			if err := a.client.Get(cmd.Context(), "/files", params, &resp); err != nil {
				return fmt.Errorf("listing %s: %w", p, err)
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), resp.Data)
				return nil
			}
			if recursive {
				prefix := strings.TrimSuffix(p, "/") + "/"
				for i := range resp.Data {
					resp.Data[i].Name = strings.TrimPrefix(resp.Data[i].Path, prefix)
				}
			}
			output.NodeTable(cmd.OutOrStdout(), resp.Data)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "List the whole subtree")
	return cmd
}

func newStatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show details for a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp client.Response[client.Node]
			if err := a.client.Get(cmd.Context(), "/files/stat", url.Values{"path": {args[0]}}, &resp); err != nil {
				return fmt.Errorf("fetching %s: %w", args[0], err)
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), resp.Data)
				return nil
			}
			output.NodeDetail(cmd.OutOrStdout(), resp.Data)
			return nil
		},
	}
}

func newSearchCommand(a *app) *cobra.Command {
	var (
		scope     string
		kind      string
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search for files by name",
		Long: `Search names under a folder. Results found only in the live tree are
marked store-only; results only the index knows are marked mirror-only.

  linkdrive search report
  linkdrive search report --path /Documents --type file
  linkdrive search q1 --recursive=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{
				"q":         {args[0]},
				"path":      {scope},
				"recursive": {fmt.Sprintf("%t", recursive)},
			}
			if kind != "" {
				params.Set("type", kind)
			}

			var resp client.Response[[]client.SearchResult]
			if err := a.client.Get(cmd.Context(), "/files/search", params, &resp); err != nil {
				return fmt.Errorf("searching: %w", err)
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), resp.Data)
				return nil
			}
			output.SearchTable(cmd.OutOrStdout(), resp.Data)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "path", "/", "Folder to search under")
	cmd.Flags().StringVar(&kind, "type", "", "Restrict to file or folder")
	cmd.Flags().BoolVar(&recursive, "recursive", true, "Search the whole subtree")
	return cmd
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp client.Response[client.VersionInfo]
			if err := a.client.Get(cmd.Context(), "/version", nil, &resp); err != nil {
				return fmt.Errorf("fetching version: %w", err)
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), resp.Data)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server %s (api %s) at %s\n", resp.Data.Version, resp.Data.APIVersion, a.serverURL)
			return nil
		},
	}
}
