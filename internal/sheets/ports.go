package sheets

import (
	"context"

	"github.com/google/uuid"

	"dosmangos/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionExporter mirrors transactions into an external spreadsheet,
	// one row per transaction keyed by id.
	TransactionExporter interface {
		Upsert(ctx context.Context, t core.Transaction) (rowRef string, err error)
		Remove(ctx context.Context, id uuid.UUID) error
	}
)
