package serenpair

import (
	"errors"
	"testing"
)

func TestConfigValidateRequiresDatabaseURL(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrFatalConfig) {
		t.Errorf("expected ErrFatalConfig for missing database_url, got %v", err)
	}
}

func TestConfigValidateRejectsBadPercentileRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabaseURL = "postgres://localhost/test"
	cfg.MiningPLo = 0.5
	cfg.MiningPHi = 0.2
	if err := cfg.Validate(); !errors.Is(err, ErrFatalConfig) {
		t.Errorf("expected ErrFatalConfig for inverted percentile range, got %v", err)
	}
}

func TestConfigValidatePassesWithDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabaseURL = "postgres://localhost/test"
	cfg.NotionDatabaseID = "db-id"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
