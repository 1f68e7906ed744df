// Package observer provides StatusObserver implementations. The core
// hands status records to whatever observer reads a completed procedure
// (spec §6); this is not part of the core's required contract surface but
// an ambient hook grounded on the host repo's redis-backed notification
// bus (internal/services/job_notifier.go in the host lineage).
package observer

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	core "github.com/coredb/execore/internal/jobs/core"
	"github.com/coredb/execore/internal/platform/logger"
)

// channelPrefix namespaces the pub/sub channels this observer publishes
// to, one channel per procedure.
const channelPrefix = "execore:procedure:"

type jobStatusMessage struct {
	ProcedureID string           `json:"procedure_id"`
	JobID       string           `json:"job_id"`
	ActionFQN   string           `json:"action_fqn"`
	Record      core.StatusRecord `json:"record"`
}

type procedureCompleteMessage struct {
	ProcedureID string `json:"procedure_id"`
	Result      any    `json:"result"`
}

// Redis publishes job status transitions and procedure completion onto a
// per-procedure redis pub/sub channel, mirroring the host repo's
// SSE-over-redis fan-out for job progress.
type Redis struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) ObserveJobStatus(procedureID, jobID uuid.UUID, actionFQN string, record core.StatusRecord) {
	payload, err := json.Marshal(jobStatusMessage{
		ProcedureID: procedureID.String(),
		JobID:       jobID.String(),
		ActionFQN:   actionFQN,
		Record:      record,
	})
	if err != nil {
		if r.log != nil {
			r.log.Error("observer: failed to marshal job status", "error", err)
		}
		return
	}
	if err := r.client.Publish(context.Background(), channelPrefix+procedureID.String(), payload).Err(); err != nil {
		if r.log != nil {
			r.log.Warn("observer: redis publish failed", "error", err)
		}
	}
}

func (r *Redis) ObserveProcedureComplete(procedureID uuid.UUID, result any) {
	payload, err := json.Marshal(procedureCompleteMessage{
		ProcedureID: procedureID.String(),
		Result:      result,
	})
	if err != nil {
		if r.log != nil {
			r.log.Error("observer: failed to marshal procedure complete", "error", err)
		}
		return
	}
	if err := r.client.Publish(context.Background(), channelPrefix+procedureID.String(), payload).Err(); err != nil {
		if r.log != nil {
			r.log.Warn("observer: redis publish failed", "error", err)
		}
	}
}
