package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CheckpointRecord is the durable row backing the execution core's
// CheckpointStore (spec §1, §3, §4.5): one row per job, holding the columns
// named in the specification plus the Scheduled flag below.
type CheckpointRecord struct {
	ProcedureID uuid.UUID      `gorm:"column:procedure_id;type:uuid;index;not null"`
	JobID       uuid.UUID      `gorm:"column:job_id;type:uuid;primaryKey"`
	ActionFQN   string         `gorm:"column:action_fqn;not null"`
	Args        datatypes.JSON `gorm:"column:args"`
	Kwargs      datatypes.JSON `gorm:"column:kwargs"`
	BeginTS     *time.Time     `gorm:"column:begin_ts"`
	FinishTS    *time.Time     `gorm:"column:finish_ts"`

	// Scheduled records whether the job had already been handed to the
	// scheduler at the time it was registered (false for submitter-side
	// registration ahead of scheduling; true for jobs registered
	// atomically by a committing job for its own spawned_jobs).
	Scheduled bool `gorm:"column:scheduled;not null;default:false"`
}

func (CheckpointRecord) TableName() string { return "execore_checkpoints" }
