package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/docshare/linkdrive/internal/client"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatSize(tt.input); got != tt.want {
				t.Errorf("FormatSize(%d) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"zero", time.Time{}, "-"},
		{"just now", time.Now(), "just now"},
		{"minutes", time.Now().Add(-5 * time.Minute), "5m ago"},
		{"hours", time.Now().Add(-3 * time.Hour), "3h ago"},
		{"days", time.Now().Add(-7 * 24 * time.Hour), "7d ago"},
		{"old", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "2024-01-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelativeTime(tt.at); got != tt.want {
				t.Errorf("RelativeTime() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortMIME(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"application/pdf", "pdf"},
		{"text/plain; charset=utf-8", "plain"},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "sheet"},
		{"inode/directory", "directory"},
		{"", "-"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := shortMIME(tt.input); got != tt.want {
				t.Errorf("shortMIME(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTables(t *testing.T) {
	var buf bytes.Buffer
	NodeTable(&buf, []client.Node{
		{Name: "docs", Path: "/docs", IsFolder: true},
		{Name: "a.pdf", Path: "/a.pdf", Size: 2048, MimeType: "application/pdf"},
	})
	out := buf.String()
	if !strings.Contains(out, "docs/") || !strings.Contains(out, "2.0 KB") || !strings.Contains(out, "pdf") {
		t.Fatalf("unexpected node table:\n%s", out)
	}

	buf.Reset()
	SearchTable(&buf, []client.SearchResult{{Path: "/docs/report.txt", Size: 10, Source: "store-only"}})
	if !strings.Contains(buf.String(), "store-only") {
		t.Fatalf("unexpected search table:\n%s", buf.String())
	}

	buf.Reset()
	TaskTable(&buf, nil)
	if strings.TrimSpace(buf.String()) != "No open reconciliation tasks." {
		t.Fatalf("unexpected task table %q", buf.String())
	}
}
