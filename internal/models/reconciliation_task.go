package models

import "github.com/google/uuid"

type ReconciliationStatus string

const (
	ReconciliationOpen     ReconciliationStatus = "open"
	ReconciliationResolved ReconciliationStatus = "resolved"
)

// ReconciliationTask records a store/mirror divergence the coordinator could
// not undo. SourcePath is where the entry was before the operation and
// TargetPath where the store left it.
type ReconciliationTask struct {
	BaseModel
	OwnerID           uuid.UUID            `json:"ownerID" gorm:"type:uuid;not null;index"`
	Operation         string               `json:"operation" gorm:"type:varchar(32);not null"`
	SourcePath        string               `json:"sourcePath" gorm:"type:text"`
	TargetPath        string               `json:"targetPath" gorm:"type:text"`
	ContentHash       string               `json:"contentHash" gorm:"type:varchar(255)"`
	Failure           string               `json:"failure" gorm:"type:text"`
	CompensationError string               `json:"compensationError" gorm:"type:text"`
	Status            ReconciliationStatus `json:"status" gorm:"type:varchar(16);not null;default:'open';index"`
}

func (ReconciliationTask) TableName() string {
	return "reconciliation_tasks"
}
