package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportRun summarises one import into a model's backing table. Row level
// errors are not kept, only their count.
type ImportRun struct {
	ID         uuid.UUID  `json:"id"`
	ModelID    uuid.UUID  `json:"model_id"`
	SourceKind SourceKind `json:"source_kind"`
	TotalRows  int        `json:"total_rows"`
	Imported   int64      `json:"imported"`
	ErrorCount int        `json:"error_count"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Succeeded reports whether every source row made it into the table.
func (r ImportRun) Succeeded() bool {
	return r.ErrorCount == 0
}
