package storage

import (
	"time"

	"github.com/cuemby/monagent/pkg/types"
)

// JobRecord is a completed job kept in the job history
type JobRecord struct {
	Result      types.JobResult `json:"result"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Store defines the interface for the local job history
type Store interface {
	SaveJobRecord(record *JobRecord) error
	GetJobRecord(jid string) (*JobRecord, error)
	ListJobRecords() ([]*JobRecord, error)
	DeleteJobRecord(jid string) error

	// PruneJobRecords deletes the oldest records beyond keep and returns how
	// many were deleted
	PruneJobRecords(keep int) (int, error)

	// Utility
	Close() error
}
