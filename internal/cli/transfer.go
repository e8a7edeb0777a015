package cli

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/docshare/linkdrive/internal/client"
	"github.com/docshare/linkdrive/internal/output"
	"github.com/spf13/cobra"
)

func newDownloadCommand(a *app) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "download <remote-path>",
		Short: "Download a file, or a folder as a zip",
		Long: `Download a file as is, or a whole folder as one zip archive.

  linkdrive download /Documents/report.pdf
  linkdrive download /Projects                 Writes Projects.zip
  linkdrive download / -o backup.zip           Archive everything
  linkdrive download /notes.txt -o -           Write to stdout`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := path.Clean("/" + args[0])

			if dest == "" {
				name, err := a.downloadName(cmd, remote)
				if err != nil {
					return err
				}
				dest = name
			}
			if dest == "-" {
				_, err := a.client.Download(cmd.Context(), "/files/download", url.Values{"path": {remote}}, cmd.OutOrStdout())
				return err
			}

			n, err := downloadToFile(dest, func(w io.Writer) error {
				_, err := a.client.Download(cmd.Context(), "/files/download", url.Values{"path": {remote}}, w)
				return err
			})
			if err != nil {
				return fmt.Errorf("downloading %s: %w", remote, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s -> %s (%s)\n", remote, dest, output.FormatSize(n))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dest, "output", "o", "", "Output file path, - for stdout")
	return cmd
}

// downloadName picks the local file name the server would offer.
func (a *app) downloadName(cmd *cobra.Command, remote string) (string, error) {
	if remote == "/" {
		return "files.zip", nil
	}
	var resp client.Response[client.Node]
	if err := a.client.Get(cmd.Context(), "/files/stat", url.Values{"path": {remote}}, &resp); err != nil {
		return "", fmt.Errorf("fetching %s: %w", remote, err)
	}
	if resp.Data.IsFolder {
		return path.Base(remote) + ".zip", nil
	}
	return path.Base(remote), nil
}

// downloadToFile writes through a temporary file so a failed transfer never
// leaves a partial file under the final name.
func downloadToFile(dest string, fetch func(io.Writer) error) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".linkdrive-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	counter := &countingWriter{w: tmp}
	if err := fetch(counter); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, err
	}
	return counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func newCatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <hash>",
		Short: "Print content by hash",
		Long: `Fetch an object by content hash through the server's gateway chain and
write it to stdout.

  linkdrive cat bafkreigh2akiscaildc... > out.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.client.Download(cmd.Context(), "/content/"+url.PathEscape(args[0]), nil, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("fetching %s: %w", args[0], err)
			}
			return nil
		},
	}
}
