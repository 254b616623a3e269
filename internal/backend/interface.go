// Package backend picks where dosmangos-worker exports transactions.
package backend

import (
	"context"

	"dosmangos/internal/sheets"
)

// CleanupFunc releases the resources of an exporter.
type CleanupFunc func() error

// Result is an exporter with its optional cleanup.
type Result struct {
	Exporter sheets.TransactionExporter
	Cleanup  CleanupFunc
}

// Factory creates exporters based on configuration.
type Factory interface {
	CreateExporter(ctx context.Context, config Config) (*Result, error)
}

// Config holds what exporter creation needs.
type Config struct {
	Type Type

	// Google Sheets specific
	GoogleSpreadsheetID string
	GoogleSheetName     string
}

// Type names an export destination.
type Type string

const (
	SheetsBackend Type = "sheets"
	MemoryBackend Type = "memory"
)

func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
