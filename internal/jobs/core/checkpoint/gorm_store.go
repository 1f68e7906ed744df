// Package checkpoint provides the execution core's CheckpointStore
// implementations: the durable record of (procedure_id, job_id,
// action_fqn, args, kwargs, begin_ts, finish_ts) described in spec §1.
package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coredb/execore/internal/domain"
	core "github.com/coredb/execore/internal/jobs/core"
)

// Store is the default, gorm-backed core.CheckpointStore. is_recoverable is
// a static, process-wide predicate over a registered set of action names
// (SUPPLEMENTED FEATURES: mirrors the original MySQL-era static allowlist),
// not a per-job flag.
type Store struct {
	db *gorm.DB

	mu          sync.RWMutex
	recoverable map[string]struct{}
}

// NewStore constructs a checkpoint store over db. recoverableActions is the
// static allowlist of action FQNs considered recoverable; Job construction
// consults IsRecoverable exactly once and freezes the answer.
func NewStore(db *gorm.DB, recoverableActions ...string) *Store {
	s := &Store{db: db, recoverable: make(map[string]struct{}, len(recoverableActions))}
	for _, a := range recoverableActions {
		s.recoverable[a] = struct{}{}
	}
	return s
}

// MarkRecoverable adds fqn to the static allowlist. Intended to be called
// during action registration, before the executor starts.
func (s *Store) MarkRecoverable(fqn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoverable[fqn] = struct{}{}
}

func (s *Store) IsRecoverable(actionFQN string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.recoverable[actionFQN]
	return ok
}

func (s *Store) Register(ctx context.Context, jobs []core.CheckpointRegistration, scheduled bool) error {
	if len(jobs) == 0 {
		return nil
	}
	rows := make([]domain.CheckpointRecord, 0, len(jobs))
	for _, j := range jobs {
		argsJSON, err := json.Marshal(j.Args)
		if err != nil {
			return err
		}
		kwargsJSON, err := json.Marshal(j.Kwargs)
		if err != nil {
			return err
		}
		rows = append(rows, domain.CheckpointRecord{
			ProcedureID: j.ProcedureID,
			JobID:       j.JobID,
			ActionFQN:   j.ActionFQN,
			Args:        datatypes.JSON(argsJSON),
			Kwargs:      datatypes.JSON(kwargsJSON),
			Scheduled:   scheduled,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *Store) Handle(jobID uuid.UUID) core.CheckpointHandle {
	return &gormHandle{db: s.db, jobID: jobID}
}

func (s *Store) Remove(ctx context.Context, jobID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&domain.CheckpointRecord{}).Error
}

type gormHandle struct {
	db    *gorm.DB
	jobID uuid.UUID
}

func (h *gormHandle) Begin(ctx context.Context) error {
	now := time.Now()
	return h.db.WithContext(ctx).
		Model(&domain.CheckpointRecord{}).
		Where("job_id = ?", h.jobID).
		Update("begin_ts", now).Error
}

func (h *gormHandle) Finish(ctx context.Context) error {
	now := time.Now()
	return h.db.WithContext(ctx).
		Model(&domain.CheckpointRecord{}).
		Where("job_id = ?", h.jobID).
		Update("finish_ts", now).Error
}
