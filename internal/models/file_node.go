package models

import "github.com/google/uuid"

const FolderMimeType = "inode/directory"

// FileNode is one entry of an owner's namespace. Relationships are derived
// from Path and ParentPath; the owner root "/" is implicit and never a row.
type FileNode struct {
	BaseModel
	OwnerID     uuid.UUID `json:"ownerID" gorm:"type:uuid;not null;uniqueIndex:idx_file_nodes_owner_path,priority:1"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Path        string    `json:"path" gorm:"type:text;not null;uniqueIndex:idx_file_nodes_owner_path,priority:2"`
	ParentPath  string    `json:"parentPath" gorm:"type:text;not null;index"`
	IsFolder    bool      `json:"isFolder" gorm:"not null;default:false"`
	ContentHash string    `json:"contentHash" gorm:"type:varchar(255)"`
	Size        int64     `json:"size" gorm:"not null;default:0"`
	MimeType    string    `json:"mimeType" gorm:"type:varchar(255)"`
}

func (FileNode) TableName() string {
	return "file_nodes"
}
