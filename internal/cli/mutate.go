package cli

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/docshare/linkdrive/internal/client"
	"github.com/docshare/linkdrive/internal/output"
	"github.com/spf13/cobra"
)

func remoteParent(p string) string {
	dir := path.Dir(path.Clean("/" + p))
	if dir == "." {
		return "/"
	}
	return dir
}

func newMkdirCommand(a *app) *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Long: `Create a folder. Creating a folder that already exists is not an error.

  linkdrive mkdir /Documents
  linkdrive mkdir -p /Documents/Reports/Q1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := path.Clean("/" + args[0])
			if target == "/" {
				return fmt.Errorf("the root folder always exists")
			}

			paths := []string{target}
			if parents {
				paths = paths[:0]
				current := ""
				for _, segment := range strings.Split(strings.Trim(target, "/"), "/") {
					current += "/" + segment
					paths = append(paths, current)
				}
			}

			var node client.Node
			for _, p := range paths {
				var resp client.Response[client.Node]
				body := map[string]string{"parentPath": remoteParent(p), "name": path.Base(p)}
				if err := a.client.Post(cmd.Context(), "/files/directory", body, &resp); err != nil {
					return fmt.Errorf("creating %s: %w", p, err)
				}
				node = resp.Data
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), node)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created folder: %s\n", node.Path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parent folders")
	return cmd
}

type uploadJob struct {
	localPath  string
	parentPath string
}

func newUploadCommand(a *app) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "upload <local-path> [remote-folder]",
		Short: "Upload a file or folder",
		Long: `Upload a local file or folder. Folders are uploaded recursively.

  linkdrive upload report.pdf                  Upload to the root
  linkdrive upload report.pdf /Documents       Upload into a folder
  linkdrive upload ./project /Documents -w 8   Upload a folder with 8 workers`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := "/"
			if len(args) > 1 {
				parent = path.Clean("/" + args[1])
			}

			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("stat %s: %w", args[0], err)
			}
			if !info.IsDir() {
				return a.uploadFile(cmd, args[0], parent)
			}
			return a.uploadFolder(cmd, args[0], parent, workers)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of concurrent uploads for folders")
	return cmd
}

func (a *app) uploadFile(cmd *cobra.Command, localPath, parent string) error {
	var resp client.Response[client.Node]
	err := a.client.Upload(cmd.Context(), "/files/upload", "file", localPath, map[string]string{"parentPath": parent}, &resp)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filepath.Base(localPath), err)
	}

	if a.json {
		output.JSON(cmd.OutOrStdout(), resp.Data)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%s)\n", resp.Data.Path, output.FormatSize(resp.Data.Size))
	return nil
}

func (a *app) uploadFolder(cmd *cobra.Command, localDir, parent string, workers int) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	mkdir := func(parentPath, name string) (string, error) {
		var resp client.Response[client.Node]
		body := map[string]string{"parentPath": parentPath, "name": name}
		if err := a.client.Post(ctx, "/files/directory", body, &resp); err != nil {
			return "", err
		}
		return resp.Data.Path, nil
	}

	top, err := mkdir(parent, filepath.Base(filepath.Clean(localDir)))
	if err != nil {
		return fmt.Errorf("creating remote folder: %w", err)
	}
	fmt.Fprintf(out, "Created folder: %s\n", top)

	jobs := make(chan uploadJob, 64)
	var walkErr error
	var uploaded, failed atomic.Int64

	// Folders are created by the walker before any of their files are queued.
	go func() {
		defer close(jobs)
		remote := map[string]string{filepath.Clean(localDir): top}
		walkErr = filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			p = filepath.Clean(p)
			if p == filepath.Clean(localDir) {
				return nil
			}
			remoteDir := remote[filepath.Dir(p)]
			if d.IsDir() {
				created, err := mkdir(remoteDir, d.Name())
				if err != nil {
					fmt.Fprintf(errOut, "  Failed to create folder: %s: %v\n", p, err)
					return filepath.SkipDir
				}
				remote[p] = created
				return nil
			}
			if d.Type().IsRegular() {
				jobs <- uploadJob{localPath: p, parentPath: remoteDir}
			}
			return nil
		})
	}()

	if workers < 1 {
		workers = 1
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				var resp client.Response[client.Node]
				err := a.client.Upload(ctx, "/files/upload", "file", job.localPath, map[string]string{"parentPath": job.parentPath}, &resp)
				mu.Lock()
				if err != nil {
					fmt.Fprintf(errOut, "  Failed: %s: %v\n", job.localPath, err)
					failed.Add(1)
				} else {
					fmt.Fprintf(out, "  Uploaded: %s (%s)\n", resp.Data.Path, output.FormatSize(resp.Data.Size))
					uploaded.Add(1)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if walkErr != nil {
		return fmt.Errorf("walking %s: %w", localDir, walkErr)
	}
	fmt.Fprintf(out, "\nDone: %d uploaded, %d failed\n", uploaded.Load(), failed.Load())
	if failed.Load() > 0 {
		return fmt.Errorf("%d file(s) failed to upload", failed.Load())
	}
	return nil
}

func newMvCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Move or rename a file or folder",
		Long: `Move an entry into another folder or rename it.

  linkdrive mv /Documents/report.pdf /Archive          Move into an existing folder
  linkdrive mv /Documents/old.pdf new.pdf              Rename in place
  linkdrive mv /Documents/old.pdf /Archive/new.pdf     Move and rename`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := a.moveRequest(cmd, args[0], args[1])
			if err != nil {
				return err
			}

			var resp client.Response[client.MoveResult]
			if err := a.client.Put(cmd.Context(), "/files", body, &resp); err != nil {
				return fmt.Errorf("moving %s: %w", args[0], err)
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), resp.Data)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s -> %s\n", resp.Data.From, resp.Data.To)
			return nil
		},
	}
}

// moveRequest turns a destination argument into an update body. A bare name
// renames in place; an existing folder receives the source; any other path
// names the new location.
func (a *app) moveRequest(cmd *cobra.Command, src, dst string) (map[string]string, error) {
	body := map[string]string{"path": src}
	if !strings.Contains(dst, "/") {
		body["name"] = dst
		return body, nil
	}

	var resp client.Response[client.Node]
	err := a.client.Get(cmd.Context(), "/files/stat", url.Values{"path": {dst}}, &resp)
	switch {
	case err == nil && resp.Data.IsFolder:
		body["parentPath"] = path.Clean("/" + dst)
	case err == nil:
		return nil, fmt.Errorf("destination %s already exists", dst)
	case client.IsNotFound(err):
		body["parentPath"] = remoteParent(dst)
		body["name"] = path.Base(dst)
	case path.Clean("/"+dst) == "/":
		body["parentPath"] = "/"
	default:
		return nil, fmt.Errorf("resolving destination: %w", err)
	}
	return body, nil
}

func newRmCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder.

  linkdrive rm /Documents/old-report.pdf
  linkdrive rm /Temp --force                   Skip confirmation

Deleting a folder removes all of its contents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := args[0]
			if !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Delete %q and everything below it? [y/N] ", p)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				answer = strings.TrimSpace(strings.ToLower(answer))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			var resp client.Response[client.DeleteResult]
			if err := a.client.Delete(cmd.Context(), "/files", url.Values{"path": {p}}, &resp); err != nil {
				return fmt.Errorf("deleting %s: %w", p, err)
			}

			if a.json {
				output.JSON(cmd.OutOrStdout(), resp.Data)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s (%d index rows)\n", resp.Data.Path, resp.Data.Removed)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}
