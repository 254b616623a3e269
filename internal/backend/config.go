package backend

import (
	"errors"
	"fmt"

	"dosmangos/internal/config"
)

// FromAppConfig converts the application config to backend config. With no
// EXPORT_BACKEND set, Sheets is used when a spreadsheet is configured.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	t := Type(appConfig.ExportBackend)
	if t == "" {
		t = MemoryBackend
		if appConfig.SheetsEnabled() {
			t = SheetsBackend
		}
	}
	cfg := Config{
		Type:                t,
		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
		GoogleSheetName:     appConfig.GoogleSheetName,
	}
	return cfg, cfg.Validate()
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SheetsBackend && c.GoogleSpreadsheetID == "" {
		return errors.New("Google Spreadsheet ID is required for sheets backend")
	}
	return nil
}
