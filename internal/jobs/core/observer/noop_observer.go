package observer

import (
	"github.com/google/uuid"

	core "github.com/coredb/execore/internal/jobs/core"
)

// Noop discards every status record. The default when no external reader
// is configured.
type Noop struct{}

func (Noop) ObserveJobStatus(uuid.UUID, uuid.UUID, string, core.StatusRecord) {}
func (Noop) ObserveProcedureComplete(uuid.UUID, any)                         {}
