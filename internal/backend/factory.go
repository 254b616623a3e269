package backend

import (
	"context"
	"fmt"

	"dosmangos/internal/log"
	gsheet "dosmangos/internal/sheets/google"
	"dosmangos/internal/sheets/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentSheets)}
}

// CreateExporter implements Factory.CreateExporter
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SheetsBackend:
		client, err := gsheet.NewFromEnv(ctx, config.GoogleSpreadsheetID, config.GoogleSheetName, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.Info("Initialized Google Sheets exporter", "spreadsheet_id", config.GoogleSpreadsheetID)
		return &Result{Exporter: client}, nil
	default:
		store := memory.New()
		f.logger.Info("Initialized memory exporter")
		return &Result{
			Exporter: store,
			Cleanup: func() error {
				upserts, removes := store.Calls()
				f.logger.Info("Memory exporter closed", "upserts", upserts, "removes", removes, "rows", len(store.Rows()))
				return nil
			},
		}, nil
	}
}
