package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docshare/linkdrive/internal/client"
)

// JSON prints v as indented JSON.
func JSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// NodeTable prints a folder listing.
func NodeTable(w io.Writer, nodes []client.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No files found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tTYPE\tMODIFIED")
	for _, n := range nodes {
		name, size, kind := n.Name, FormatSize(n.Size), shortMIME(n.MimeType)
		if n.IsFolder {
			name += "/"
			size = "-"
			kind = "dir"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, size, kind, RelativeTime(n.UpdatedAt))
	}
	tw.Flush()
}

// NodeDetail prints a single entry.
func NodeDetail(w io.Writer, n client.Node) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", n.Name)
	fmt.Fprintf(tw, "Path:\t%s\n", n.Path)
	if n.ID != "" {
		fmt.Fprintf(tw, "ID:\t%s\n", n.ID)
	}
	fmt.Fprintf(tw, "Folder:\t%v\n", n.IsFolder)
	if !n.IsFolder {
		fmt.Fprintf(tw, "Size:\t%s\n", FormatSize(n.Size))
		fmt.Fprintf(tw, "Type:\t%s\n", n.MimeType)
	}
	fmt.Fprintf(tw, "Hash:\t%s\n", n.ContentHash)
	if n.Source != "" {
		fmt.Fprintf(tw, "Source:\t%s\n", n.Source)
	}
	if !n.UpdatedAt.IsZero() {
		fmt.Fprintf(tw, "Created:\t%s\n", n.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(tw, "Modified:\t%s\n", n.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func SearchTable(w io.Writer, results []client.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tSOURCE")
	for _, r := range results {
		p, size := r.Path, FormatSize(r.Size)
		if r.IsFolder {
			p += "/"
			size = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p, size, r.Source)
	}
	tw.Flush()
}

func TaskTable(w io.Writer, tasks []client.ReconciliationTask) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No open reconciliation tasks.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tSOURCE\tTARGET\tCREATED")
	for _, task := range tasks {
		target := task.TargetPath
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", task.ID, task.Operation, task.SourcePath, target, RelativeTime(task.CreatedAt))
	}
	tw.Flush()
}

// FormatSize converts bytes to a human-readable string.
func FormatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// RelativeTime formats a timestamp relative to now (e.g. "2h ago", "3d ago").
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

func shortMIME(mime string) string {
	if mime == "" {
		return "-"
	}
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	parts := strings.Split(mime, "/")
	if len(parts) == 2 {
		s := parts[1]
		if idx := strings.LastIndex(s, "."); idx >= 0 {
			s = s[idx+1:]
		}
		return s
	}
	return mime
}
