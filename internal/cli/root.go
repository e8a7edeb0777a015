// Package cli implements the linkdrive command line client.
package cli

import (
	"fmt"
	"os"

	"github.com/docshare/linkdrive/internal/client"
	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

type app struct {
	serverURL string
	json      bool
	client    *client.Client
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "linkdrive",
		Short: "linkdrive CLI: manage your content-addressed drive from the terminal",
		Long: `linkdrive talks to a linkdrive server and lets you browse, upload,
move, search and download files without leaving the terminal.

Get started:
  linkdrive ls                     List the root folder
  linkdrive upload report.pdf      Upload a file
  linkdrive download /Projects     Download a folder as a zip`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.serverURL == "" {
				a.serverURL = defaultServerURL
			}
			a.client = client.NewClient(a.serverURL)
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&a.json, "json", false, "Output as JSON")
	root.PersistentFlags().StringVar(&a.serverURL, "server", os.Getenv("LINKDRIVE_SERVER"), "Server URL (default: $LINKDRIVE_SERVER or "+defaultServerURL+")")

	root.AddCommand(
		newLsCommand(a),
		newStatCommand(a),
		newMkdirCommand(a),
		newUploadCommand(a),
		newMvCommand(a),
		newRmCommand(a),
		newSearchCommand(a),
		newDownloadCommand(a),
		newCatCommand(a),
		newReconcileCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
