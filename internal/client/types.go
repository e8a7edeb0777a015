package client

import "time"

// Node mirrors the server's file_nodes row, plus the source marker stat adds
// for entries only the store knows about.
type Node struct {
	ID          string    `json:"id,omitempty"`
	OwnerID     string    `json:"ownerID,omitempty"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	ParentPath  string    `json:"parentPath,omitempty"`
	IsFolder    bool      `json:"isFolder"`
	ContentHash string    `json:"contentHash"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType,omitempty"`
	Source      string    `json:"source,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type SearchResult struct {
	Path      string     `json:"path"`
	Name      string     `json:"name"`
	IsFolder  bool       `json:"isFolder"`
	Hash      string     `json:"hash,omitempty"`
	Size      int64      `json:"size"`
	MimeType  string     `json:"mimeType,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Source    string     `json:"source"`
}

type MoveResult struct {
	Node        *Node  `json:"node"`
	From        string `json:"from"`
	To          string `json:"to"`
	Descendants int64  `json:"descendants"`
}

type DeleteResult struct {
	Path    string `json:"path"`
	Removed int64  `json:"removed"`
	Healed  bool   `json:"healed,omitempty"`
}

type ReconciliationTask struct {
	ID                string    `json:"id"`
	Operation         string    `json:"operation"`
	SourcePath        string    `json:"sourcePath"`
	TargetPath        string    `json:"targetPath"`
	ContentHash       string    `json:"contentHash"`
	Failure           string    `json:"failure"`
	CompensationError string    `json:"compensationError"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
}

type VersionInfo struct {
	Version    string `json:"version"`
	APIVersion string `json:"apiVersion"`
}
